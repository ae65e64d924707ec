/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mirkobrombin/capsule/pkg/incus"
)

// muxSession is the in-container tmux session name every capsule run
// shares. One session per container, windows disambiguate.
const muxSession = "capsule"

// State describes where a terminal session is in its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateAttached
	StateDetached
	StateStopping
	StateDeleted
	StateKept
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	case StateStopping:
		return "stopping"
	case StateDeleted:
		return "deleted"
	case StateKept:
		return "kept"
	}
	return "unknown"
}

// detachExitCodes are the in-container exit codes an attach may end
// with without being an error: 130 is SIGINT, 137 SIGKILL, 143 SIGTERM,
// all produced by ordinary detach and shutdown races.
var detachExitCodes = map[int]bool{130: true, 137: true, 143: true}

// Mux drives the tmux session inside a container: it creates the
// session detached, attaches the caller's terminal to it, and reports
// whether a detached session is still alive.
type Mux struct {
	mgr   *incus.Manager
	user  string
	state State
}

// NewMux returns a Mux for the container the manager is bound to.
func NewMux(mgr *incus.Manager, user string) *Mux {
	return &Mux{mgr: mgr, user: user, state: StateNotStarted}
}

// State returns the current lifecycle state.
func (m *Mux) State() State { return m.state }

// HasLiveSession reports whether the container still runs the shared
// tmux session.
func (m *Mux) HasLiveSession(ctx context.Context) bool {
	_, err := m.mgr.Exec(ctx, "tmux has-session -t "+muxSession+" 2>/dev/null",
		incus.ExecOptions{User: m.user, Capture: true})
	return err == nil
}

// Run starts command inside a fresh tmux session and attaches to it.
// The command keeps running across detaches, an exiting command drops
// to a shell instead of killing the window so its output stays
// readable.
func (m *Mux) Run(ctx context.Context, command string, env map[string]string) error {
	m.state = StateStarting

	var exports []string
	for _, k := range sortedKeys(env) {
		exports = append(exports, fmt.Sprintf("export %s=%q;", k, env[k]))
	}
	inner := fmt.Sprintf("trap : INT; %s %s; exec bash", strings.Join(exports, " "), command)

	create := fmt.Sprintf("tmux new-session -d -s %s -c /workspace %q", muxSession, inner)
	if _, err := m.mgr.Exec(ctx, create, incus.ExecOptions{User: m.user, Capture: true}); err != nil {
		m.state = StateNotStarted
		return fmt.Errorf("unable to create terminal session: %w", err)
	}
	return m.Attach(ctx)
}

// Attach connects the caller's terminal to the container's tmux
// session. Detaching, or the session ending, returns nil.
func (m *Mux) Attach(ctx context.Context) error {
	m.state = StateAttached
	env := map[string]string{"TERM": SanitizeTerm(os.Getenv("TERM"))}

	err := AttachPTY(ctx, m.mgr.ContainerName, m.user, "tmux attach -t "+muxSession, env)
	m.state = StateDetached

	var exitErr *incus.ExitError
	if errors.As(err, &exitErr) && detachExitCodes[exitErr.ExitCode] {
		return nil
	}
	return err
}

// Send types keys into the tmux session, followed by Enter.
func (m *Mux) Send(ctx context.Context, keys string) error {
	cmd := fmt.Sprintf("tmux send-keys -t %s %q Enter", muxSession, keys)
	_, err := m.mgr.Exec(ctx, cmd, incus.ExecOptions{User: m.user, Capture: true})
	return err
}

// Capture returns the visible contents of the session's active pane.
func (m *Mux) Capture(ctx context.Context) (string, error) {
	return m.mgr.Exec(ctx, "tmux capture-pane -p -t "+muxSession,
		incus.ExecOptions{User: m.user, Capture: true})
}

// ListSessions returns the container's tmux session listing, or an
// empty string when the server is not running.
func (m *Mux) ListSessions(ctx context.Context) (string, error) {
	out, err := m.mgr.Exec(ctx, "tmux list-sessions 2>/dev/null || true",
		incus.ExecOptions{User: m.user, Capture: true})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Kill ends the tmux session if one is running.
func (m *Mux) Kill(ctx context.Context) error {
	m.state = StateStopping
	if !m.HasLiveSession(ctx) {
		return nil
	}
	_, err := m.mgr.Exec(ctx, "tmux kill-session -t "+muxSession,
		incus.ExecOptions{User: m.user, Capture: true})
	return err
}

// Finish records the container's final disposition after cleanup.
func (m *Mux) Finish(deleted bool) {
	if deleted {
		m.state = StateDeleted
	} else {
		m.state = StateKept
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
