package network

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

// ensureHostRoute makes the OVN network's subnet reachable from the
// host by routing it through the network's uplink address. Without the
// route, file push and exec still work but nothing on the host can
// reach services inside the container. The route is added at most once,
// re-adding an existing route is skipped.
func ensureHostRoute(ctx context.Context, networkName string) error {
	subnet, uplinkIP, err := ovnSubnetAndUplink(ctx, networkName)
	if err != nil {
		return err
	}
	if subnet == "" || uplinkIP == "" {
		return nil
	}

	exists, err := hostRouteExists(ctx, subnet)
	if err != nil || exists {
		return err
	}

	logger.Printf("adding host route %s via %s", subnet, uplinkIP)
	out, err := exec.CommandContext(ctx, "sudo", "-n", "ip", "route", "add", subnet, "via", uplinkIP).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unable to add host route %s: %s", subnet, strings.TrimSpace(string(out)))
	}
	return nil
}

// ovnSubnetAndUplink reads the network's IPv4 subnet and the address it
// holds on its uplink. Non-OVN networks return empty values.
func ovnSubnetAndUplink(ctx context.Context, networkName string) (subnet, uplinkIP string, err error) {
	netType, err := incus.Command(ctx, "network", "get", networkName, "--property", "type")
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(netType) != "ovn" {
		return "", "", nil
	}

	addr, err := incus.Command(ctx, "network", "get", networkName, "ipv4.address")
	if err != nil {
		return "", "", err
	}
	uplink, err := incus.Command(ctx, "network", "get", networkName, "volatile.network.ipv4.address")
	if err != nil {
		return "", "", err
	}

	subnet = subnetOf(strings.TrimSpace(addr))
	return subnet, strings.TrimSpace(uplink), nil
}

// subnetOf turns a gateway CIDR like 10.37.93.1/24 into its network
// address form 10.37.93.0/24.
func subnetOf(gatewayCIDR string) string {
	ip, mask, ok := strings.Cut(gatewayCIDR, "/")
	if !ok {
		return ""
	}
	parts := strings.Split(ip, ".")
	if len(parts) != 4 || mask != "24" {
		// Only /24 layouts are rewritten, anything else is passed
		// through and the route add either works or reports why.
		return gatewayCIDR
	}
	return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2])
}

func hostRouteExists(ctx context.Context, subnet string) (bool, error) {
	out, err := exec.CommandContext(ctx, "ip", "route", "show", subnet).Output()
	if err != nil {
		return false, fmt.Errorf("unable to inspect host routes: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// GatewayIP returns the IPv4 gateway address of the given network, used
// to keep DNS reachable from restricted and allowlist containers.
func GatewayIP(ctx context.Context, networkName string) (string, error) {
	addr, err := incus.Command(ctx, "network", "get", networkName, "ipv4.address")
	if err != nil {
		return "", err
	}
	ip, _, ok := strings.Cut(strings.TrimSpace(addr), "/")
	if !ok {
		return "", fmt.Errorf("network %s has no IPv4 gateway", networkName)
	}
	return ip, nil
}
