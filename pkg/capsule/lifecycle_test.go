package capsule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/capsule/pkg/types"
)

func TestResolveWorkspace(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveWorkspace(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	t.Run("empty means current directory", func(t *testing.T) {
		cwd, err := os.Getwd()
		require.NoError(t, err)
		got, err := resolveWorkspace("")
		require.NoError(t, err)
		assert.Equal(t, cwd, got)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := resolveWorkspace(filepath.Join(dir, "missing"))
		assert.True(t, errors.Is(err, ErrInvalidWorkspace))
	})

	t.Run("regular file", func(t *testing.T) {
		file := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		_, err := resolveWorkspace(file)
		assert.True(t, errors.Is(err, ErrInvalidWorkspace))
	})
}

func TestPrepareSessionResumeInheritsPersistence(t *testing.T) {
	fakeIncus(t, "")
	c := newTestCapsule(t)
	workspace := t.TempDir()

	stored := &types.Session{
		ID:         "sess-1",
		Workspace:  workspace,
		Slot:       1,
		Persistent: true,
	}
	require.NoError(t, c.Store.Save(stored))

	t.Run("omitted flag keeps stored value", func(t *testing.T) {
		session, resumed, err := c.prepareSession(context.Background(), workspace, SetupOptions{
			ResumeID: "sess-1",
		})
		require.NoError(t, err)
		assert.True(t, resumed)
		assert.True(t, session.Persistent)
		assert.Equal(t, 1, session.Slot)
	})

	t.Run("explicit flag wins for this run", func(t *testing.T) {
		session, _, err := c.prepareSession(context.Background(), workspace, SetupOptions{
			ResumeID:      "sess-1",
			Persistent:    false,
			PersistentSet: true,
		})
		require.NoError(t, err)
		assert.False(t, session.Persistent)
	})
}

func TestPrepareSessionFreshIsNewIdentity(t *testing.T) {
	fakeIncus(t, "")
	c := newTestCapsule(t)
	workspace := t.TempDir()

	a, resumed, err := c.prepareSession(context.Background(), workspace, SetupOptions{})
	require.NoError(t, err)
	assert.False(t, resumed)

	b, _, err := c.prepareSession(context.Background(), workspace, SetupOptions{})
	require.NoError(t, err)

	// A fresh start is a new session object even on the same
	// workspace and slot.
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ContainerName, b.ContainerName)
}

func TestSetupResumeMissCreatesNoContainer(t *testing.T) {
	logPath := fakeIncus(t, "")
	c := newTestCapsule(t)

	_, err := c.Setup(context.Background(), SetupOptions{
		Workspace: t.TempDir(),
		ResumeID:  "never-saved",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	log := callLog(t, logPath)
	assert.NotContains(t, log, "init ")
	assert.NotContains(t, log, "launch ")
}

func TestSetupResumeRejectsForeignWorkspace(t *testing.T) {
	fakeIncus(t, "")
	c := newTestCapsule(t)
	workspace := t.TempDir()

	require.NoError(t, c.Store.Save(&types.Session{
		ID:        "sess-other",
		Workspace: "/somewhere/else",
		Slot:      1,
	}))

	_, err := c.Setup(context.Background(), SetupOptions{
		Workspace: workspace,
		ResumeID:  "sess-other",
	})
	assert.Error(t, err)
}

func TestDaysSince(t *testing.T) {
	assert.Equal(t, 0, daysSince(time.Now()))
	assert.Equal(t, 3, daysSince(time.Now().Add(-73*time.Hour)))
}
