/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package capsule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mirkobrombin/capsule/pkg/logger"
	"github.com/mirkobrombin/capsule/pkg/network"
	"github.com/mirkobrombin/capsule/pkg/terminal"
)

// Settle polling after the interactive session ends: a poweroff issued
// inside the container takes a moment to reach the Stopped state.
var (
	stopSettleAttempts = 10
	stopSettleDelay    = 500 * time.Millisecond
)

// Cleanup ends a session run. Agent state is always saved first. A
// container is only ever deleted after a poweroff from inside has
// stopped it: an inner shell exit leaves the container running and
// running containers are kept, whatever the persistence flag. The
// session record always survives, it is what --resume needs.
func (c *Capsule) Cleanup(ctx context.Context, h *Handle) error {
	h.Net.StopRefresher()

	if err := c.saveAgentState(ctx, h); err != nil {
		logger.Warnf("unable to save agent state: %v", err)
	}

	mux := terminal.NewMux(h.Incus, c.Config.Defaults.User)
	if mux.HasLiveSession(ctx) {
		logger.Printf("terminal session still active in %s, keeping it", h.Session.ContainerName)
		logger.Printf("reattach with: capsule attach %s", h.Session.ContainerName)
		return c.Store.Save(h.Session)
	}

	if h.Session.Persistent {
		running, err := h.Incus.IsRunning(ctx)
		if err != nil {
			return err
		}
		if running {
			logger.Printf("stopping persistent container %s", h.Session.ContainerName)
			if err := h.Incus.Stop(ctx); err != nil {
				return err
			}
		}
		logger.Printf("container %s kept", h.Session.ContainerName)
		return c.Store.Save(h.Session)
	}

	running, err := c.waitStopped(ctx, h)
	if err != nil {
		return err
	}
	if running {
		// No poweroff was observed, only the inner shell ended.
		logger.Printf("container %s still running, keeping it", h.Session.ContainerName)
		logger.Printf("reattach with: capsule attach %s", h.Session.ContainerName)
		return c.Store.Save(h.Session)
	}

	logger.Printf("deleting container %s", h.Session.ContainerName)
	deleted, err := h.Incus.Delete(ctx)
	if err != nil {
		// The container survived, so its policy must survive too.
		return fmt.Errorf("unable to delete %s, network policy left in place: %w",
			h.Session.ContainerName, err)
	}
	if err := h.Net.TeardownAfterDelete(ctx, deleted); err != nil {
		logger.Warnf("%v", err)
	}
	return c.Store.Save(h.Session)
}

// waitStopped polls the container state, reporting true when it is
// still running after the settle window.
func (c *Capsule) waitStopped(ctx context.Context, h *Handle) (bool, error) {
	for i := 0; i < stopSettleAttempts; i++ {
		running, err := h.Incus.IsRunning(ctx)
		if err != nil {
			return false, err
		}
		if !running {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(stopSettleDelay):
		}
	}
	return true, nil
}

// saveAgentState pulls the agent state directory out of the container
// into the session's host directory.
func (c *Capsule) saveAgentState(ctx context.Context, h *Handle) error {
	running, err := h.Incus.IsRunning(ctx)
	if err != nil || !running {
		return err
	}

	saved := c.agentStatePath(h.Session.ID)
	if err := os.MkdirAll(filepath.Dir(saved), 0o755); err != nil {
		return err
	}
	return h.Incus.PullDirectory(ctx, c.Config.Agent.StateDir, saved)
}

// RemoveByContainerName deletes a container by name together with its
// policy, looking persistence and mode up in the store. Used by the
// shutdown and kill commands. With force set, persistent containers are
// deleted too, otherwise they are only stopped.
func (c *Capsule) RemoveByContainerName(ctx context.Context, name string, force bool) error {
	session, err := c.Store.LoadByContainerName(name)
	if err != nil {
		logger.Debugf("no session record for %s: %v", name, err)
		session = nil
	}

	if session != nil && session.Persistent && !force {
		mgr := incusManagerFor(name)
		running, err := mgr.IsRunning(ctx)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		logger.Printf("stopping persistent container %s", name)
		return mgr.Stop(ctx)
	}

	mode := string(c.Config.Network.Mode)
	if session != nil && session.NetworkMode != "" {
		mode = session.NetworkMode
	}
	netMgr := network.NewManager(c.networkConfigFor(mode), c.Options.CachePath, name)

	deleted, err := incusManagerFor(name).Delete(ctx)
	if err != nil {
		return err
	}
	if err := netMgr.TeardownAfterDelete(ctx, deleted); err != nil {
		logger.Warnf("%v", err)
	}
	return nil
}

// RemoveSession deletes one session's record, saved state and DNS cache
// by id. It refuses while the session's container still exists.
func (c *Capsule) RemoveSession(ctx context.Context, id string) error {
	session, err := c.Store.Load(id)
	if err != nil {
		return err
	}
	exists, err := incusManagerFor(session.ContainerName).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("container %s still exists, shut it down first", session.ContainerName)
	}
	if err := os.RemoveAll(filepath.Join(c.Options.SessionsPath, session.ID)); err != nil {
		return err
	}
	if err := network.NewCacheManager(c.Options.CachePath, session.ContainerName).Delete(); err != nil {
		logger.Warnf("unable to remove DNS cache of %s: %v", session.ContainerName, err)
	}
	return c.Store.Delete(session.ID)
}

// Prune removes saved state, DNS caches and records of sessions whose
// containers no longer exist and that have not been used for the given
// number of days. It returns the ids it removed.
func (c *Capsule) Prune(ctx context.Context, olderThanDays int) ([]string, error) {
	sessions, err := c.Store.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, session := range sessions {
		if olderThanDays > 0 && daysSince(session.LastUsedAt) < olderThanDays {
			continue
		}
		exists, err := incusManagerFor(session.ContainerName).Exists(ctx)
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.Options.SessionsPath, session.ID)); err != nil {
			return removed, err
		}
		if err := network.NewCacheManager(c.Options.CachePath, session.ContainerName).Delete(); err != nil {
			logger.Warnf("unable to remove DNS cache of %s: %v", session.ContainerName, err)
		}
		if err := c.Store.Delete(session.ID); err != nil {
			return removed, err
		}
		removed = append(removed, session.ID)
	}
	return removed, nil
}
