package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load builds the effective configuration by merging, in order: the
// built-in defaults, /etc/capsule/config.toml, ~/.config/capsule/config.toml,
// ./.capsule.toml, and finally CAPSULE_* environment variables. Later
// sources win. Missing files are skipped, unreadable ones are an error.
func Load() (*Config, error) {
	cfg := Default()

	for _, path := range configPaths() {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if !cfg.Network.Mode.IsValid() {
		return nil, fmt.Errorf("invalid network mode %q in configuration", cfg.Network.Mode)
	}

	cfg.Paths.Sessions = ExpandPath(cfg.Paths.Sessions)
	cfg.Paths.Store = ExpandPath(cfg.Paths.Store)
	cfg.Paths.Cache = ExpandPath(cfg.Paths.Cache)
	return cfg, nil
}

func configPaths() []string {
	paths := []string{"/etc/capsule/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "capsule", "config.toml"))
	}
	paths = append(paths, ".capsule.toml")
	return paths
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CAPSULE_CONTAINER_PREFIX"); v != "" {
		cfg.Incus.ContainerPrefix = v
	}
	if v := os.Getenv("CAPSULE_IMAGE"); v != "" {
		cfg.Incus.Image = v
	}
	if v := os.Getenv("CAPSULE_NETWORK_MODE"); v != "" {
		cfg.Network.Mode = NetworkMode(v)
	}
	if v := os.Getenv("CAPSULE_ALLOWED_DOMAINS"); v != "" {
		cfg.Network.AllowedDomains = splitList(v)
	}
	if v := os.Getenv("CAPSULE_REFRESH_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Network.RefreshMinutes = n
		}
	}
	if v := os.Getenv("CAPSULE_SESSIONS_PATH"); v != "" {
		cfg.Paths.Sessions = v
	}
	if v := os.Getenv("CAPSULE_STORE_PATH"); v != "" {
		cfg.Paths.Store = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
