/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package incus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirkobrombin/capsule/pkg/logger"
)

// Manager wraps all daemon operations against a single named container.
type Manager struct {
	ContainerName string
}

// Deleted is the proof that a container was successfully removed from
// the daemon. Only Delete produces one, and network teardown demands
// one, so ACLs cannot be removed from under a live container.
type Deleted struct {
	name string
}

// Name returns the name of the container that was deleted.
func (d Deleted) Name() string { return d.name }

// NewManager returns a Manager bound to the given container name.
func NewManager(name string) *Manager {
	return &Manager{ContainerName: name}
}

// Exists reports whether the container is known to the daemon, whatever
// its state.
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	out, err := run(ctx, "list", "^"+m.ContainerName+"$", "--format=csv", "-c", "n")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == m.ContainerName, nil
}

// IsRunning reports whether the container exists and is in the Running
// state.
func (m *Manager) IsRunning(ctx context.Context) (bool, error) {
	out, err := run(ctx, "list", "^"+m.ContainerName+"$", "--format=csv", "-c", "s")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "RUNNING", nil
}

// Init creates the container from an image without starting it, leaving
// room to attach disks and ACLs before first boot.
func (m *Manager) Init(ctx context.Context, image string) error {
	_, err := run(ctx, "init", image, m.ContainerName)
	return err
}

// Start boots the container.
func (m *Manager) Start(ctx context.Context) error {
	_, err := run(ctx, "start", m.ContainerName)
	return err
}

// Stop shuts the container down, forcibly if the clean path fails.
func (m *Manager) Stop(ctx context.Context) error {
	if _, err := run(ctx, "stop", m.ContainerName); err == nil {
		return nil
	}
	_, err := run(ctx, "stop", m.ContainerName, "--force")
	return err
}

// Delete removes the container from the daemon and returns a Deleted
// token on success. Running containers are stopped first.
func (m *Manager) Delete(ctx context.Context) (Deleted, error) {
	running, err := m.IsRunning(ctx)
	if err != nil {
		return Deleted{}, err
	}
	if running {
		if err := m.Stop(ctx); err != nil {
			return Deleted{}, fmt.Errorf("unable to stop %s before delete: %w", m.ContainerName, err)
		}
	}
	if _, err := run(ctx, "delete", m.ContainerName); err != nil {
		return Deleted{}, err
	}
	return Deleted{name: m.ContainerName}, nil
}

// MountDisk attaches a host directory into the container with uid/gid
// shifting enabled.
func (m *Manager) MountDisk(ctx context.Context, deviceName, hostPath, containerPath string) error {
	_, err := run(ctx, "config", "device", "add", m.ContainerName,
		deviceName, "disk",
		"source="+hostPath,
		"path="+containerPath,
		"shift=true")
	return err
}

// ExecOptions controls how a command runs inside the container.
type ExecOptions struct {
	User        string
	Cwd         string
	Env         map[string]string
	Capture     bool
	Interactive bool
}

// Exec runs a shell command inside the container. With Capture set the
// combined stdout is returned, with Interactive set the command is
// attached to the caller's terminal. A non-zero in-container exit code
// is reported as an *ExitError.
func (m *Manager) Exec(ctx context.Context, command string, opts ExecOptions) (string, error) {
	args := []string{"exec", m.ContainerName}
	if opts.User != "" {
		args = append(args, "--user", "1000", "--group", "1000",
			"--env", "HOME=/home/"+opts.User,
			"--env", "USER="+opts.User)
	}
	if opts.Cwd != "" {
		args = append(args, "--cwd", opts.Cwd)
	}
	for k, v := range opts.Env {
		args = append(args, "--env", k+"="+v)
	}
	if opts.Interactive {
		args = append(args, "-t")
	}
	args = append(args, "--", "bash", "-c", command)

	if opts.Interactive {
		return "", runInteractive(ctx, args...)
	}
	if opts.Capture {
		out, err := runWithTimeout(ctx, execTimeout, args...)
		return out, wrapExecError(err)
	}

	cmd := exec.CommandContext(ctx, "incus", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return "", wrapExecError(cmd.Run())
}

func wrapExecError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{ExitCode: exitErr.ExitCode()}
	}
	return err
}

// WaitReady polls until a trivial command succeeds inside the container,
// giving the init system time to bring userspace up.
func (m *Manager) WaitReady(ctx context.Context, attempts int) error {
	for i := 0; i < attempts; i++ {
		if _, err := run(ctx, "exec", m.ContainerName, "--", "echo", "ready"); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("container %s did not become ready", m.ContainerName)
}

// PushFile copies a host file into the container, creating parent
// directories.
func (m *Manager) PushFile(ctx context.Context, hostPath, containerPath string) error {
	_, err := runWithTimeout(ctx, fileOpTimeout, "file", "push", hostPath,
		m.ContainerName+containerPath, "--create-dirs")
	return err
}

// PushDirectory copies a host directory into the container recursively.
func (m *Manager) PushDirectory(ctx context.Context, hostPath, containerPath string) error {
	_, err := runWithTimeout(ctx, fileOpTimeout, "file", "push", "--recursive", "--create-dirs",
		hostPath, m.ContainerName+containerPath)
	return err
}

// PullDirectory copies a container directory to the host. The pull lands
// in a scratch directory first so a partial transfer never clobbers the
// previous copy at hostPath.
func (m *Manager) PullDirectory(ctx context.Context, containerPath, hostPath string) error {
	scratch, err := os.MkdirTemp(filepath.Dir(hostPath), ".pull-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if _, err := runWithTimeout(ctx, fileOpTimeout, "file", "pull", "--recursive",
		m.ContainerName+containerPath, scratch); err != nil {
		return err
	}

	pulled := filepath.Join(scratch, filepath.Base(containerPath))
	if err := os.RemoveAll(hostPath); err != nil {
		return err
	}
	if err := os.Rename(pulled, hostPath); err != nil {
		// Rename fails across filesystems, fall back to a copy.
		logger.Debugf("rename fallback for %s: %v", hostPath, err)
		return copyTree(pulled, hostPath)
	}
	return nil
}

// Chown changes ownership of a path inside the container.
func (m *Manager) Chown(ctx context.Context, path, owner string) error {
	_, err := run(ctx, "exec", m.ContainerName, "--", "chown", "-R", owner, path)
	return err
}

// IPv4 returns the container's first global IPv4 address, or an empty
// string when the container is stopped or has none yet.
func (m *Manager) IPv4(ctx context.Context) (string, error) {
	containers, err := List(ctx, m.ContainerName)
	if err != nil {
		return "", err
	}
	for _, c := range containers {
		if c.Name == m.ContainerName {
			return firstIPv4(c), nil
		}
	}
	return "", nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
