/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

// ErrACLNotSupported is returned when the container's network is not an
// OVN network. Bridge networks ignore ACL assignments silently, which
// would leave the container unrestricted, so capsule refuses instead.
var ErrACLNotSupported = errors.New("network does not support ACLs")

// privateRanges are the CIDRs blocked in restricted and allowlist mode:
// the RFC1918 ranges plus the link-local/metadata range.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
}

// aclRule is one egress or ingress entry of an ACL.
type aclRule struct {
	direction   string
	action      string
	destination string
}

// ACLManager creates, applies and removes the network ACL of a single
// container.
type ACLManager struct {
	containerName string
	aclName       string
}

// NewACLManager returns an ACLManager for the container. The ACL name
// encodes both the container and the mode so stale ACLs from a previous
// mode never get picked up.
func NewACLManager(containerName, mode string) *ACLManager {
	return &ACLManager{
		containerName: containerName,
		aclName:       fmt.Sprintf("capsule-%s-%s", containerName, mode),
	}
}

// Name returns the daemon-side name of the ACL.
func (a *ACLManager) Name() string { return a.aclName }

// Create builds the ACL from the given rules, replacing any stale ACL
// of the same name first.
func (a *ACLManager) Create(ctx context.Context, rules []aclRule) error {
	// A leftover ACL from a crashed run must not accumulate rules.
	if a.exists(ctx) {
		if err := a.Delete(ctx); err != nil {
			return fmt.Errorf("unable to replace stale ACL %s: %w", a.aclName, err)
		}
	}

	if _, err := incus.Command(ctx, "network", "acl", "create", a.aclName); err != nil {
		return fmt.Errorf("unable to create ACL %s: %w", a.aclName, err)
	}

	for _, rule := range rules {
		args := []string{"network", "acl", "rule", "add", a.aclName,
			rule.direction, "action=" + rule.action}
		if rule.destination != "" {
			args = append(args, "destination="+rule.destination)
		}
		if _, err := incus.Command(ctx, args...); err != nil {
			// Half-built ACLs are worse than none at all.
			if delErr := a.Delete(ctx); delErr != nil {
				logger.Warnf("unable to remove partial ACL %s: %v", a.aclName, delErr)
			}
			return fmt.Errorf("unable to add rule to ACL %s: %w", a.aclName, err)
		}
	}

	if _, err := incus.Command(ctx, "network", "acl", "rule", "add", a.aclName,
		"ingress", "action=allow"); err != nil {
		if delErr := a.Delete(ctx); delErr != nil {
			logger.Warnf("unable to remove partial ACL %s: %v", a.aclName, delErr)
		}
		return fmt.Errorf("unable to add ingress rule to ACL %s: %w", a.aclName, err)
	}
	return nil
}

// ApplyToContainer checks that the container's network is OVN and
// assigns the ACL to its eth0 device.
func (a *ACLManager) ApplyToContainer(ctx context.Context) error {
	network, err := containerNetwork(ctx, a.containerName)
	if err != nil {
		return err
	}
	supported, err := networkSupportsACLs(ctx, network)
	if err != nil {
		return err
	}
	if !supported {
		return fmt.Errorf("%w: network %q is not an OVN network", ErrACLNotSupported, network)
	}

	if _, err := incus.Command(ctx, "config", "device", "override",
		a.containerName, "eth0"); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("unable to override eth0 on %s: %w", a.containerName, err)
	}
	if _, err := incus.Command(ctx, "config", "device", "set",
		a.containerName, "eth0", "security.acls="+a.aclName); err != nil {
		return fmt.Errorf("unable to assign ACL %s: %w", a.aclName, err)
	}
	return nil
}

// Delete removes the ACL from the daemon. Callers must detach it from
// the container first, or the daemon refuses.
func (a *ACLManager) Delete(ctx context.Context) error {
	_, err := incus.Command(ctx, "network", "acl", "delete", a.aclName)
	return err
}

func (a *ACLManager) exists(ctx context.Context) bool {
	out, err := incus.Command(ctx, "network", "acl", "list", "--format=csv")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if name, _, _ := strings.Cut(line, ","); strings.TrimSpace(name) == a.aclName {
			return true
		}
	}
	return false
}

// containerNetwork returns the network name the container's eth0 is
// attached to, falling back to the default profile's device.
func containerNetwork(ctx context.Context, containerName string) (string, error) {
	for _, args := range [][]string{
		{"config", "device", "get", containerName, "eth0", "network"},
		{"profile", "device", "get", "default", "eth0", "network"},
	} {
		out, err := incus.Command(ctx, args...)
		if err == nil {
			if network := strings.TrimSpace(out); network != "" {
				return network, nil
			}
		}
	}
	return "", fmt.Errorf("unable to determine network of %s", containerName)
}

// networkSupportsACLs reports whether the named network is OVN. Only OVN
// networks enforce ACLs.
func networkSupportsACLs(ctx context.Context, network string) (bool, error) {
	out, err := incus.Command(ctx, "network", "get", network, "--property", "type")
	if err != nil {
		return false, fmt.Errorf("unable to inspect network %s: %w", network, err)
	}
	return strings.TrimSpace(out) == "ovn", nil
}

// buildRestrictedRules blocks the private and metadata ranges and allows
// everything else. The gateway stays reachable for DNS.
func buildRestrictedRules(gatewayIP string, allowLocalNetwork bool) []aclRule {
	var rules []aclRule
	if gatewayIP != "" {
		rules = append(rules, aclRule{"egress", "allow", gatewayIP + "/32"})
	}
	if allowLocalNetwork {
		for _, cidr := range privateRanges[:3] {
			rules = append(rules, aclRule{"egress", "allow", cidr})
		}
	} else {
		for _, cidr := range privateRanges[:3] {
			rules = append(rules, aclRule{"egress", "reject", cidr})
		}
	}
	rules = append(rules, aclRule{"egress", "reject", "169.254.0.0/16"})
	rules = append(rules, aclRule{"egress", "allow", ""})
	return rules
}

// buildAllowlistRules allows only the given addresses plus the gateway.
// No final allow rule: OVN's implicit default for ACL-bearing ports is
// deny, which is exactly the allowlist semantic.
func buildAllowlistRules(gatewayIP string, allowedIPs []string) []aclRule {
	var rules []aclRule
	if gatewayIP != "" {
		rules = append(rules, aclRule{"egress", "allow", gatewayIP + "/32"})
	}

	seen := make(map[string]bool)
	var ips []string
	for _, ip := range allowedIPs {
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)
	for _, ip := range ips {
		rules = append(rules, aclRule{"egress", "allow", ip + "/32"})
	}

	for _, cidr := range privateRanges {
		rules = append(rules, aclRule{"egress", "reject", cidr})
	}
	return rules
}
