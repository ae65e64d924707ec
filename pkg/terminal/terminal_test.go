package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTerm(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"xterm-ghostty", "xterm-256color"},
		{"ghostty", "xterm-256color"},
		{"wezterm", "xterm-256color"},
		{"alacritty", "xterm-256color"},
		{"xterm-kitty", "xterm-256color"},
		{"tmux-256color", "xterm-256color"},
		{"screen-256color", "xterm-256color"},
		{"", "xterm-256color"},
		{"xterm", "xterm"},
		{"xterm-256color", "xterm-256color"},
		{"linux", "linux"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeTerm(tt.input), "TERM=%q", tt.input)
	}
}

func TestMuxStateLifecycle(t *testing.T) {
	m := NewMux(nil, "dev")
	assert.Equal(t, StateNotStarted, m.State())

	m.state = StateStarting
	assert.Equal(t, "starting", m.State().String())

	m.state = StateAttached
	assert.Equal(t, "attached", m.State().String())

	m.Finish(true)
	assert.Equal(t, StateDeleted, m.State())

	m.Finish(false)
	assert.Equal(t, StateKept, m.State())
}

func TestDetachExitCodes(t *testing.T) {
	for _, code := range []int{130, 137, 143} {
		assert.True(t, detachExitCodes[code], "code %d", code)
	}
	assert.False(t, detachExitCodes[0])
	assert.False(t, detachExitCodes[1])
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "not-started", StateNotStarted.String())
	assert.Equal(t, "detached", StateDetached.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(99).String())
}
