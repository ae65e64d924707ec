/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package incus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrDaemonUnreachable is returned when the incus client binary is
	// missing or the daemon does not answer.
	ErrDaemonUnreachable = errors.New("incus daemon unreachable")

	// ErrTimeout is returned when a daemon command exceeds its deadline.
	ErrTimeout = errors.New("incus command timed out")
)

// ExitError carries the exit code of a command executed inside a
// container, so callers can propagate it to the host process.
type ExitError struct {
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}

const (
	// commandTimeout bounds quick daemon commands: list, init, start,
	// stop, delete, config changes.
	commandTimeout = 30 * time.Second

	// fileOpTimeout bounds recursive file push and pull, which scale
	// with the size of the transferred tree.
	fileOpTimeout = 10 * time.Minute

	// execTimeout bounds captured in-container commands, which include
	// package installation during image builds.
	execTimeout = 30 * time.Minute
)

// run executes an incus client command and returns its combined stdout.
func run(ctx context.Context, args ...string) (string, error) {
	return runWithTimeout(ctx, commandTimeout, args...)
}

func runWithTimeout(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return runNoDeadline(ctx, args...)
}

func runNoDeadline(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "incus", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: incus %s", ErrTimeout, strings.Join(args, " "))
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("incus %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// runInteractive executes an incus client command attached to the
// caller's terminal.
func runInteractive(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "incus", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{ExitCode: exitErr.ExitCode()}
	}
	return err
}

// Command executes an arbitrary incus client command with the default
// deadline, for callers outside this package.
func Command(ctx context.Context, args ...string) (string, error) {
	return run(ctx, args...)
}

// CommandWithTimeout is Command with a caller-chosen deadline, for slow
// operations like image download and publish.
func CommandWithTimeout(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return runWithTimeout(ctx, timeout, args...)
}

// Available reports whether the incus client is installed and the daemon
// answers. The returned error wraps ErrDaemonUnreachable with a hint.
func Available(ctx context.Context) error {
	if _, err := exec.LookPath("incus"); err != nil {
		return fmt.Errorf("%w: incus binary not found in PATH", ErrDaemonUnreachable)
	}
	if _, err := run(ctx, "version"); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	return nil
}
