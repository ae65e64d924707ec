package capsule

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/capsule/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	return store
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	session := &types.Session{
		ID:            "sess-1",
		Workspace:     "/home/dev/project",
		Slot:          1,
		Persistent:    true,
		ContainerName: "capsule-a1b2c3d4-1",
		NetworkMode:   "restricted",
	}
	require.NoError(t, store.Save(session))

	got, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "capsule-a1b2c3d4-1", got.ContainerName)
	assert.Equal(t, "restricted", got.NetworkMode)
	assert.True(t, got.Persistent)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStoreLoadLatestForWorkspace(t *testing.T) {
	store := newTestStore(t)

	older := &types.Session{ID: "old", Workspace: "/home/dev/project", Slot: 1}
	require.NoError(t, store.Save(older))
	older.LastUsedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.db.Save(older).Error)

	newer := &types.Session{ID: "new", Workspace: "/home/dev/project", Slot: 2}
	require.NoError(t, store.Save(newer))

	other := &types.Session{ID: "other", Workspace: "/home/dev/other", Slot: 1}
	require.NoError(t, store.Save(other))

	got, err := store.LoadLatestForWorkspace("/home/dev/project")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestStoreLoadLatestForWorkspaceEmpty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadLatestForWorkspace("/home/dev/never-used")
	assert.True(t, errors.Is(err, ErrNoPreviousSession))
}

func TestStoreLoadByContainerName(t *testing.T) {
	store := newTestStore(t)

	session := &types.Session{
		ID:            "sess-1",
		Workspace:     "/home/dev/project",
		ContainerName: "capsule-a1b2c3d4-1",
		Persistent:    true,
	}
	require.NoError(t, store.Save(session))

	got, err := store.LoadByContainerName("capsule-a1b2c3d4-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)

	_, err = store.LoadByContainerName("capsule-ffffffff-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestStorePersistenceNotDowngradedOnResume(t *testing.T) {
	store := newTestStore(t)

	session := &types.Session{ID: "sess-1", Workspace: "/w", Persistent: true}
	require.NoError(t, store.Save(session))

	// A resume without an explicit flag keeps the stored value.
	got, err := store.Load("sess-1")
	require.NoError(t, err)
	require.NoError(t, store.Save(got))

	again, err := store.Load("sess-1")
	require.NoError(t, err)
	assert.True(t, again.Persistent)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&types.Session{ID: "sess-1", Workspace: "/w"}))
	require.NoError(t, store.Delete("sess-1"))

	_, err := store.Load("sess-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	// Deleting again is harmless.
	assert.NoError(t, store.Delete("sess-1"))
}

func TestStoreListOrder(t *testing.T) {
	store := newTestStore(t)

	a := &types.Session{ID: "a", Workspace: "/w"}
	require.NoError(t, store.Save(a))
	a.LastUsedAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.db.Save(a).Error)

	require.NoError(t, store.Save(&types.Session{ID: "b", Workspace: "/w"}))

	sessions, err := store.List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
}
