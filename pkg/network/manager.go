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
	"time"

	"github.com/mirkobrombin/capsule/pkg/config"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

// Manager applies and removes the network policy of one container. It
// is created per session, configured from the network section, and in
// allowlist mode keeps a background refresher following DNS changes.
type Manager struct {
	cfg           config.NetworkConfig
	containerName string
	acl           *ACLManager
	resolver      *Resolver
	cache         *CacheManager

	currentIPs    []string
	refreshCancel context.CancelFunc
}

// NewManager returns a Manager for the container using the given network
// configuration. cacheDir holds the per-container DNS cache files.
func NewManager(cfg config.NetworkConfig, cacheDir, containerName string) *Manager {
	cache := NewCacheManager(cacheDir, containerName)
	return &Manager{
		cfg:           cfg,
		containerName: containerName,
		acl:           NewACLManager(containerName, string(cfg.Mode)),
		resolver:      NewResolver(cache),
		cache:         cache,
	}
}

// SetupForContainer applies the configured mode to the container. It
// must run after init and before start, so the container never boots
// with a wider policy than requested. Open mode only installs the host
// route.
func (m *Manager) SetupForContainer(ctx context.Context) error {
	network, err := containerNetwork(ctx, m.containerName)
	if err != nil {
		return err
	}
	if err := ensureHostRoute(ctx, network); err != nil {
		logger.Warnf("host route setup failed: %v", err)
	}

	switch m.cfg.Mode {
	case config.NetworkOpen:
		return nil
	case config.NetworkRestricted:
		return m.setupRestricted(ctx, network)
	case config.NetworkAllowlist:
		return m.setupAllowlist(ctx, network)
	default:
		return fmt.Errorf("unknown network mode %q", m.cfg.Mode)
	}
}

func (m *Manager) setupRestricted(ctx context.Context, network string) error {
	gateway, err := GatewayIP(ctx, network)
	if err != nil {
		logger.Warnf("unable to determine gateway of %s: %v", network, err)
	}
	rules := buildRestrictedRules(gateway, m.cfg.AllowLocalNetwork)
	return m.applyRules(ctx, rules)
}

func (m *Manager) setupAllowlist(ctx context.Context, network string) error {
	if len(m.cfg.AllowedDomains) == 0 {
		return errors.New("allowlist mode requires at least one allowed domain")
	}

	ips, err := m.resolver.ResolveAll(ctx, m.cfg.AllowedDomains)
	if err != nil {
		return err
	}
	m.currentIPs = ips

	gateway, err := GatewayIP(ctx, network)
	if err != nil {
		logger.Warnf("unable to determine gateway of %s: %v", network, err)
	}
	return m.applyRules(ctx, buildAllowlistRules(gateway, ips))
}

func (m *Manager) applyRules(ctx context.Context, rules []aclRule) error {
	if err := m.acl.Create(ctx, rules); err != nil {
		return err
	}
	if err := m.acl.ApplyToContainer(ctx); err != nil {
		// An ACL that cannot be attached must not linger.
		if delErr := m.acl.Delete(ctx); delErr != nil {
			logger.Warnf("unable to remove unattached ACL %s: %v", m.acl.Name(), delErr)
		}
		if errors.Is(err, ErrACLNotSupported) {
			return fmt.Errorf("%w\n\nOnly OVN networks enforce ACLs. Either move the default "+
				"profile to an OVN network or run with --network=open", err)
		}
		return err
	}
	return nil
}

// StartRefresher begins periodic DNS re-resolution in allowlist mode.
// It is a no-op for other modes or when the interval is zero.
func (m *Manager) StartRefresher(ctx context.Context) {
	if m.cfg.Mode != config.NetworkAllowlist || m.cfg.RefreshMinutes <= 0 {
		return
	}
	ctx, m.refreshCancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Duration(m.cfg.RefreshMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.refreshAllowedIPs(ctx); err != nil {
					logger.Warnf("allowlist refresh failed: %v", err)
				}
			}
		}
	}()
}

// StopRefresher stops the background refresher if one is running.
func (m *Manager) StopRefresher() {
	if m.refreshCancel != nil {
		m.refreshCancel()
		m.refreshCancel = nil
	}
}

// refreshAllowedIPs re-resolves the domain list and, when the address
// set changed, rebuilds the ACL in one detach/create/attach cycle so
// the container is never left with a partial rule set.
func (m *Manager) refreshAllowedIPs(ctx context.Context) error {
	ips, err := m.resolver.ResolveAll(ctx, m.cfg.AllowedDomains)
	if err != nil {
		return err
	}
	if IPsUnchanged(m.currentIPs, ips) {
		logger.Debugf("allowlist unchanged, %d addresses", len(ips))
		return nil
	}

	network, err := containerNetwork(ctx, m.containerName)
	if err != nil {
		return err
	}
	gateway, err := GatewayIP(ctx, network)
	if err != nil {
		logger.Warnf("unable to determine gateway of %s: %v", network, err)
	}

	if _, err := incus.Command(ctx, "config", "device", "set",
		m.containerName, "eth0", "security.acls="); err != nil {
		return fmt.Errorf("unable to detach ACL for refresh: %w", err)
	}
	if err := m.acl.Create(ctx, buildAllowlistRules(gateway, ips)); err != nil {
		return err
	}
	if err := m.acl.ApplyToContainer(ctx); err != nil {
		return err
	}

	m.currentIPs = ips
	logger.Printf("allowlist refreshed, %d addresses", len(ips))
	return nil
}

// TeardownAfterDelete removes the container's ACL and DNS cache. It
// requires the Deleted proof from incus.Manager.Delete: a policy is
// never removed while its container can still emit traffic.
func (m *Manager) TeardownAfterDelete(ctx context.Context, deleted incus.Deleted) error {
	m.StopRefresher()

	if err := m.cache.Delete(); err != nil {
		logger.Warnf("unable to remove DNS cache of %s: %v", deleted.Name(), err)
	}
	if m.cfg.Mode == config.NetworkOpen {
		return nil
	}
	if err := m.acl.Delete(ctx); err != nil {
		return fmt.Errorf("container %s deleted but ACL %s remains: %w",
			deleted.Name(), m.acl.Name(), err)
	}
	return nil
}
