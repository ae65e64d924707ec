package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkModeIsValid(t *testing.T) {
	tests := []struct {
		mode NetworkMode
		want bool
	}{
		{NetworkOpen, true},
		{NetworkRestricted, true},
		{NetworkAllowlist, true},
		{NetworkMode(""), false},
		{NetworkMode("bridged"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.IsValid(), "mode %q", tt.mode)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "capsule-", cfg.Incus.ContainerPrefix)
	assert.Equal(t, NetworkOpen, cfg.Network.Mode)
	assert.Equal(t, "dev", cfg.Defaults.User)
	assert.False(t, cfg.Defaults.Persistent)
}

func TestMergeFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[incus]
container_prefix = "lab-"

[network]
mode = "allowlist"
allowed_domains = ["example.com", "proxy.test"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, mergeFile(cfg, path))

	assert.Equal(t, "lab-", cfg.Incus.ContainerPrefix)
	assert.Equal(t, NetworkAllowlist, cfg.Network.Mode)
	assert.Equal(t, []string{"example.com", "proxy.test"}, cfg.Network.AllowedDomains)
	// Untouched sections keep their defaults.
	assert.Equal(t, "capsule-dev", cfg.Incus.Image)
}

func TestMergeFileMissingIsSkipped(t *testing.T) {
	cfg := Default()
	assert.NoError(t, mergeFile(cfg, filepath.Join(t.TempDir(), "nope.toml")))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CAPSULE_CONTAINER_PREFIX", "ci-")
	t.Setenv("CAPSULE_NETWORK_MODE", "restricted")
	t.Setenv("CAPSULE_ALLOWED_DOMAINS", "a.com, b.com ,")
	t.Setenv("CAPSULE_REFRESH_MINUTES", "5")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, "ci-", cfg.Incus.ContainerPrefix)
	assert.Equal(t, NetworkRestricted, cfg.Network.Mode)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.Network.AllowedDomains)
	assert.Equal(t, 5, cfg.Network.RefreshMinutes)
}

func TestApplyProfile(t *testing.T) {
	cfg := Default()
	cfg.Profiles = map[string]ProfileConfig{
		"paranoid": {Mode: NetworkAllowlist, AllowedDomains: []string{"api.example.com"}},
	}

	assert.False(t, cfg.ApplyProfile("missing"))
	assert.True(t, cfg.ApplyProfile("paranoid"))
	assert.Equal(t, NetworkAllowlist, cfg.Network.Mode)
	assert.Equal(t, []string{"api.example.com"}, cfg.Network.AllowedDomains)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x"), ExpandPath("~/x"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "rel/path", ExpandPath("rel/path"))
}
