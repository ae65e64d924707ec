/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// NetworkMode selects the isolation level applied to a session's container.
type NetworkMode string

const (
	// NetworkOpen applies no ACL at all.
	NetworkOpen NetworkMode = "open"

	// NetworkRestricted blocks private ranges and the metadata range,
	// everything else is allowed.
	NetworkRestricted NetworkMode = "restricted"

	// NetworkAllowlist denies everything except the resolved addresses
	// of an explicit domain list.
	NetworkAllowlist NetworkMode = "allowlist"
)

// IsValid reports whether m is one of the known network modes.
func (m NetworkMode) IsValid() bool {
	switch m {
	case NetworkOpen, NetworkRestricted, NetworkAllowlist:
		return true
	}
	return false
}

// Config is the full on-disk configuration of capsule.
type Config struct {
	Defaults DefaultsConfig            `toml:"defaults"`
	Paths    PathsConfig               `toml:"paths"`
	Incus    IncusConfig               `toml:"incus"`
	Network  NetworkConfig             `toml:"network"`
	Agent    AgentConfig               `toml:"agent"`
	Profiles map[string]ProfileConfig  `toml:"profiles"`
}

// DefaultsConfig holds the knobs applied to every session unless a flag
// overrides them.
type DefaultsConfig struct {
	Persistent bool   `toml:"persistent"`
	User       string `toml:"user"`
	Shell      string `toml:"shell"`
}

// PathsConfig holds the host directories capsule writes to. All values
// accept a leading ~ which is expanded to the user's home.
type PathsConfig struct {
	Sessions string `toml:"sessions"`
	Store    string `toml:"store"`
	Cache    string `toml:"cache"`
}

// IncusConfig holds daemon-facing settings.
type IncusConfig struct {
	Image           string `toml:"image"`
	ContainerPrefix string `toml:"container_prefix"`
	Network         string `toml:"network"`
}

// NetworkConfig holds the isolation settings.
type NetworkConfig struct {
	Mode NetworkMode `toml:"mode"`

	// AllowedDomains is the domain list resolved in allowlist mode.
	AllowedDomains []string `toml:"allowed_domains"`

	// RefreshMinutes is the interval between DNS re-resolutions in
	// allowlist mode. Zero disables the refresher.
	RefreshMinutes int `toml:"refresh_interval_minutes"`

	// AllowLocalNetwork keeps RFC1918 ranges reachable in restricted
	// mode instead of rejecting them.
	AllowLocalNetwork bool `toml:"allow_local_network"`
}

// AgentConfig describes the in-container agent whose state is saved and
// restored across sessions.
type AgentConfig struct {
	// Command is what the shell command launches by default.
	Command string `toml:"command"`

	// StateDir is the in-container directory pulled out on cleanup and
	// pushed back on resume.
	StateDir string `toml:"state_dir"`

	// CredentialFiles are host files injected into the container's
	// agent state directory on every start.
	CredentialFiles []string `toml:"credential_files"`
}

// ProfileConfig is a named partial override of the network section.
type ProfileConfig struct {
	Mode           NetworkMode `toml:"mode"`
	AllowedDomains []string    `toml:"allowed_domains"`
}

// Default returns the built-in configuration, used as the base of the
// merge chain.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Persistent: false,
			User:       "dev",
			Shell:      "bash",
		},
		Paths: PathsConfig{
			Sessions: "~/.local/share/capsule/sessions",
			Store:    "~/.local/share/capsule/store.db",
			Cache:    "~/.local/share/capsule/network-cache",
		},
		Incus: IncusConfig{
			Image:           "capsule-dev",
			ContainerPrefix: "capsule-",
			Network:         "",
		},
		Network: NetworkConfig{
			Mode:           NetworkOpen,
			RefreshMinutes: 15,
		},
		Agent: AgentConfig{
			StateDir: "/home/dev/.config/agent",
		},
	}
}

// ApplyProfile overlays the named profile onto the network section. It
// returns false if the profile is not defined.
func (c *Config) ApplyProfile(name string) bool {
	p, ok := c.Profiles[name]
	if !ok {
		return false
	}
	if p.Mode != "" {
		c.Network.Mode = p.Mode
	}
	if len(p.AllowedDomains) > 0 {
		c.Network.AllowedDomains = p.AllowedDomains
	}
	return true
}

// ExpandPath resolves a leading ~ or ~/ in path against the current
// user's home directory. Paths without a tilde are returned unchanged.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
