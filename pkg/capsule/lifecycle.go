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

	"github.com/google/uuid"

	"github.com/mirkobrombin/capsule/pkg/config"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
	"github.com/mirkobrombin/capsule/pkg/network"
	"github.com/mirkobrombin/capsule/pkg/types"
)

// readyAttempts is how many one-second probes a freshly started
// container gets before setup gives up on it.
const readyAttempts = 30

// SetupOptions controls how a session is created or resumed.
type SetupOptions struct {
	// Workspace is the host directory to mount, empty means the current
	// directory.
	Workspace string

	// Slot pins the session to a specific slot, zero means allocate.
	Slot int

	// ResumeID resumes an existing session. The value "auto" picks the
	// most recent session of the workspace.
	ResumeID string

	// Persistent marks the container as reusable. Only honored when
	// PersistentSet is true, otherwise the stored or configured default
	// applies.
	Persistent    bool
	PersistentSet bool

	// NetworkMode overrides the configured mode when non-empty.
	NetworkMode string
}

// Handle is a live session: the record, the container manager bound to
// it and the network manager holding its policy.
type Handle struct {
	Session *types.Session
	Incus   *incus.Manager
	Net     *network.Manager

	// Reused reports that setup found the container already running and
	// skipped provisioning.
	Reused bool
}

// Setup creates or resumes a session and brings its container up with
// the network policy applied. The policy is attached between init and
// first start, the container never boots unrestricted.
func (c *Capsule) Setup(ctx context.Context, opts SetupOptions) (*Handle, error) {
	workspace, err := resolveWorkspace(opts.Workspace)
	if err != nil {
		return nil, err
	}

	session, resumed, err := c.prepareSession(ctx, workspace, opts)
	if err != nil {
		return nil, err
	}

	netCfg := c.networkConfigFor(session.NetworkMode)
	mgr := incus.NewManager(session.ContainerName)
	netMgr := network.NewManager(netCfg, c.Options.CachePath, session.ContainerName)
	handle := &Handle{Session: session, Incus: mgr, Net: netMgr}

	exists, err := mgr.Exists(ctx)
	if err != nil {
		return nil, err
	}
	running := false
	if exists {
		if running, err = mgr.IsRunning(ctx); err != nil {
			return nil, err
		}
	}

	switch {
	case running:
		// A second invocation against the same identity reuses the
		// live container instead of racing it.
		logger.Printf("reusing running container %s", session.ContainerName)
		handle.Reused = true

	case exists && session.Persistent:
		logger.Printf("starting stopped container %s", session.ContainerName)
		if err := mgr.Start(ctx); err != nil {
			return nil, err
		}
		if err := mgr.WaitReady(ctx, readyAttempts); err != nil {
			return nil, err
		}

	default:
		if exists {
			// A stopped ephemeral leftover is stale, rebuild it.
			logger.Printf("removing stale container %s", session.ContainerName)
			if err := c.removeContainer(ctx, handle); err != nil {
				return nil, err
			}
		}
		if err := c.provision(ctx, handle, workspace); err != nil {
			return nil, err
		}
	}

	if resumed {
		if err := c.restoreAgentState(ctx, handle); err != nil {
			logger.Warnf("unable to restore agent state: %v", err)
		}
	}
	if err := c.injectCredentials(ctx, handle); err != nil {
		logger.Warnf("unable to inject credentials: %v", err)
	}

	if err := c.Store.Save(session); err != nil {
		return nil, fmt.Errorf("unable to save session: %w", err)
	}
	return handle, nil
}

// prepareSession resolves resume semantics, slot allocation and the
// persistence flag, and returns the session record to run.
func (c *Capsule) prepareSession(ctx context.Context, workspace string, opts SetupOptions) (*types.Session, bool, error) {
	mode := opts.NetworkMode
	if mode == "" {
		mode = string(c.Config.Network.Mode)
	}

	if opts.ResumeID != "" {
		session, err := c.lookupResume(workspace, opts.ResumeID)
		if err != nil {
			return nil, false, err
		}
		// An explicit flag wins for this run, omission keeps the
		// stored value, the record is never downgraded by omission.
		if opts.PersistentSet {
			session.Persistent = opts.Persistent
		}
		if opts.NetworkMode != "" {
			session.NetworkMode = opts.NetworkMode
		}

		free, err := SlotAvailable(ctx, c.Options.ContainerPrefix, workspace, session.Slot)
		if err != nil {
			return nil, false, err
		}
		persistentReuse := !free && session.Persistent
		if !free && !persistentReuse {
			slot, err := AllocateSlot(ctx, c.Options.ContainerPrefix, workspace)
			if err != nil {
				return nil, false, err
			}
			logger.Printf("slot %d taken, using slot %d", session.Slot, slot)
			session.Slot = slot
		}
		session.ContainerName, err = ContainerName(c.Options.ContainerPrefix, workspace, session.Slot)
		if err != nil {
			return nil, false, err
		}
		return session, true, nil
	}

	persistent := c.Config.Defaults.Persistent
	if opts.PersistentSet {
		persistent = opts.Persistent
	}

	slot := opts.Slot
	if slot == 0 {
		var err error
		if slot, err = AllocateSlot(ctx, c.Options.ContainerPrefix, workspace); err != nil {
			return nil, false, err
		}
	}
	name, err := ContainerName(c.Options.ContainerPrefix, workspace, slot)
	if err != nil {
		return nil, false, err
	}

	return &types.Session{
		ID:            uuid.New().String(),
		Workspace:     workspace,
		Slot:          slot,
		Persistent:    persistent,
		ContainerName: name,
		NetworkMode:   mode,
	}, false, nil
}

func (c *Capsule) lookupResume(workspace, resumeID string) (*types.Session, error) {
	if resumeID == "auto" {
		return c.Store.LoadLatestForWorkspace(workspace)
	}
	session, err := c.Store.Load(resumeID)
	if err != nil {
		return nil, err
	}
	if session.Workspace != workspace {
		return nil, fmt.Errorf("session %s belongs to workspace %s", resumeID, session.Workspace)
	}
	return session, nil
}

// provision creates the container from scratch: init, workspace mount,
// network policy, then first start.
func (c *Capsule) provision(ctx context.Context, h *Handle, workspace string) error {
	logger.Printf("creating container %s", h.Session.ContainerName)
	if err := h.Incus.Init(ctx, c.Options.Image); err != nil {
		return err
	}
	// Anything failing past init must not leave a half-provisioned
	// container behind.
	fail := func(step error) error {
		if rmErr := c.removeContainer(ctx, h); rmErr != nil {
			logger.Warnf("unable to remove partial container %s: %v", h.Session.ContainerName, rmErr)
		}
		return step
	}
	if err := h.Incus.MountDisk(ctx, "workspace", workspace, "/workspace"); err != nil {
		return fail(err)
	}
	if err := h.Net.SetupForContainer(ctx); err != nil {
		return fail(err)
	}
	if err := h.Incus.Start(ctx); err != nil {
		return fail(err)
	}
	if err := h.Incus.WaitReady(ctx, readyAttempts); err != nil {
		return fail(err)
	}
	return nil
}

// removeContainer deletes a container and tears its policy down in the
// only order that is safe: policy removal strictly after delete.
func (c *Capsule) removeContainer(ctx context.Context, h *Handle) error {
	deleted, err := h.Incus.Delete(ctx)
	if err != nil {
		return err
	}
	if err := h.Net.TeardownAfterDelete(ctx, deleted); err != nil {
		logger.Warnf("%v", err)
	}
	return nil
}

// restoreAgentState pushes the saved agent directory of a resumed
// session back into the container.
func (c *Capsule) restoreAgentState(ctx context.Context, h *Handle) error {
	saved := c.agentStatePath(h.Session.ID)
	if _, err := os.Stat(saved); os.IsNotExist(err) {
		return nil
	}
	stateDir := c.Config.Agent.StateDir
	if err := h.Incus.PushDirectory(ctx, saved, filepath.Dir(stateDir)); err != nil {
		return err
	}
	return h.Incus.Chown(ctx, stateDir, c.Config.Defaults.User+":"+c.Config.Defaults.User)
}

// injectCredentials copies the configured host credential files into
// the agent state directory.
func (c *Capsule) injectCredentials(ctx context.Context, h *Handle) error {
	stateDir := c.Config.Agent.StateDir
	for _, file := range c.Config.Agent.CredentialFiles {
		host := config.ExpandPath(file)
		if _, err := os.Stat(host); os.IsNotExist(err) {
			continue
		}
		target := filepath.Join(stateDir, filepath.Base(host))
		if err := h.Incus.PushFile(ctx, host, target); err != nil {
			return err
		}
		if err := h.Incus.Chown(ctx, target, c.Config.Defaults.User+":"+c.Config.Defaults.User); err != nil {
			return err
		}
	}
	return nil
}

func (c *Capsule) networkConfigFor(mode string) config.NetworkConfig {
	cfg := c.Config.Network
	if mode != "" {
		cfg.Mode = config.NetworkMode(mode)
	}
	return cfg
}

func (c *Capsule) agentStatePath(sessionID string) string {
	return filepath.Join(c.Options.SessionsPath, sessionID, "agent")
}

func resolveWorkspace(workspace string) (string, error) {
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		workspace = cwd
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidWorkspace, abs)
	}
	return abs, nil
}
