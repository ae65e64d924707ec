package incus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Container is a daemon list entry, limited to the fields capsule reads.
type Container struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	State  *struct {
		Network map[string]struct {
			Addresses []struct {
				Family  string `json:"family"`
				Address string `json:"address"`
				Scope   string `json:"scope"`
			} `json:"addresses"`
		} `json:"network"`
	} `json:"state"`
}

// List returns the daemon's container entries matching the given name
// filter. An empty filter returns everything.
func List(ctx context.Context, filter string) ([]Container, error) {
	args := []string{"list", "--format=json"}
	if filter != "" {
		args = []string{"list", filter, "--format=json"}
	}
	out, err := run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseList([]byte(out))
}

func parseList(data []byte) ([]Container, error) {
	var containers []Container
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, fmt.Errorf("unable to parse container list: %w", err)
	}
	return containers, nil
}

// firstIPv4 picks the first global-scope IPv4 address of a container
// entry, skipping loopback and link-local interfaces.
func firstIPv4(c Container) string {
	if c.State == nil {
		return ""
	}
	for ifname, iface := range c.State.Network {
		if ifname == "lo" {
			continue
		}
		for _, addr := range iface.Addresses {
			if addr.Family == "inet" && addr.Scope == "global" {
				return addr.Address
			}
		}
	}
	return ""
}

// FirstIPv4 is firstIPv4 for callers outside the package.
func FirstIPv4(c Container) string { return firstIPv4(c) }
