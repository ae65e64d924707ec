package capsule

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/capsule/pkg/config"
	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/network"
	"github.com/mirkobrombin/capsule/pkg/types"
)

// fakeIncus puts a scripted incus binary first on PATH. The script
// reports INCUS_STUB_STATUS for state queries, fails exec and file
// transfers, and records every invocation in the returned log file.
const fakeIncusScript = `#!/bin/sh
echo "$*" >> "$INCUS_STUB_LOG"
case "$*" in
  *"--format=csv -c s") echo "$INCUS_STUB_STATUS" ;;
  *"--format=csv -c n") : ;;
  "list --format=json") echo "[]" ;;
  exec*) exit 1 ;;
  "file pull"*) exit 1 ;;
esac
exit 0
`

func fakeIncus(t *testing.T, status string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incus"), []byte(fakeIncusScript), 0o755))
	logPath := filepath.Join(dir, "calls.log")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("INCUS_STUB_LOG", logPath)
	t.Setenv("INCUS_STUB_STATUS", status)
	return logPath
}

func callLog(t *testing.T, logPath string) string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func newTestCapsule(t *testing.T) *Capsule {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Sessions = filepath.Join(dir, "sessions")
	cfg.Paths.Store = filepath.Join(dir, "store.db")
	cfg.Paths.Cache = filepath.Join(dir, "cache")

	c, err := newCapsuleWith(context.Background(), cfg)
	require.NoError(t, err)
	return c
}

func newTestHandle(c *Capsule, persistent bool) *Handle {
	session := &types.Session{
		ID:            "sess-cleanup",
		Workspace:     "/home/dev/project",
		Slot:          1,
		Persistent:    persistent,
		ContainerName: "capsule-a1b2c3d4-1",
		NetworkMode:   string(config.NetworkOpen),
	}
	return &Handle{
		Session: session,
		Incus:   incus.NewManager(session.ContainerName),
		Net:     network.NewManager(c.Config.Network, c.Options.CachePath, session.ContainerName),
	}
}

func shortSettle(t *testing.T) {
	t.Helper()
	oldAttempts, oldDelay := stopSettleAttempts, stopSettleDelay
	stopSettleAttempts, stopSettleDelay = 2, 10*time.Millisecond
	t.Cleanup(func() {
		stopSettleAttempts, stopSettleDelay = oldAttempts, oldDelay
	})
}

func TestCleanupKeepsRunningEphemeralContainer(t *testing.T) {
	shortSettle(t)
	logPath := fakeIncus(t, "RUNNING")
	c := newTestCapsule(t)
	h := newTestHandle(c, false)

	require.NoError(t, c.Cleanup(context.Background(), h))

	// An inner shell exit without poweroff must not destroy the
	// container.
	log := callLog(t, logPath)
	assert.NotContains(t, log, "delete "+h.Session.ContainerName)
	assert.NotContains(t, log, "stop "+h.Session.ContainerName)

	got, err := c.Store.Load(h.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, h.Session.ContainerName, got.ContainerName)
}

func TestCleanupDeletesStoppedEphemeralContainer(t *testing.T) {
	shortSettle(t)
	logPath := fakeIncus(t, "STOPPED")
	c := newTestCapsule(t)
	h := newTestHandle(c, false)

	require.NoError(t, c.Cleanup(context.Background(), h))

	assert.Contains(t, callLog(t, logPath), "delete "+h.Session.ContainerName)

	// The record survives the container, resume depends on it.
	_, err := c.Store.Load(h.Session.ID)
	assert.NoError(t, err)
}

func TestCleanupStopsRunningPersistentContainer(t *testing.T) {
	logPath := fakeIncus(t, "RUNNING")
	c := newTestCapsule(t)
	h := newTestHandle(c, true)

	require.NoError(t, c.Cleanup(context.Background(), h))

	log := callLog(t, logPath)
	assert.Contains(t, log, "stop "+h.Session.ContainerName)
	assert.NotContains(t, log, "delete "+h.Session.ContainerName)
}

func TestCleanupToleratesAlreadyStoppedPersistentContainer(t *testing.T) {
	logPath := fakeIncus(t, "STOPPED")
	c := newTestCapsule(t)
	h := newTestHandle(c, true)

	require.NoError(t, c.Cleanup(context.Background(), h))

	// A poweroff from inside already stopped it, no stop is issued
	// and the record is still saved.
	log := callLog(t, logPath)
	assert.NotContains(t, log, "stop "+h.Session.ContainerName)
	assert.NotContains(t, log, "delete "+h.Session.ContainerName)

	_, err := c.Store.Load(h.Session.ID)
	assert.NoError(t, err)
}

func TestCleanupWaitStoppedSettles(t *testing.T) {
	shortSettle(t)
	fakeIncus(t, "RUNNING")
	c := newTestCapsule(t)
	h := newTestHandle(c, false)

	running, err := c.waitStopped(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestPruneRemovesDNSCache(t *testing.T) {
	fakeIncus(t, "")
	c := newTestCapsule(t)

	session := &types.Session{
		ID:            "sess-old",
		Workspace:     "/w",
		ContainerName: "capsule-ffffffff-1",
	}
	require.NoError(t, c.Store.Save(session))
	session.LastUsedAt = time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, c.Store.db.Save(session).Error)

	cachePath := filepath.Join(c.Options.CachePath, session.ContainerName+".json")
	require.NoError(t, os.MkdirAll(c.Options.CachePath, 0o755))
	require.NoError(t, os.WriteFile(cachePath, []byte("{}"), 0o644))

	removed, err := c.Prune(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	_, err = os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveSessionRefusesWhileContainerExists(t *testing.T) {
	dir := t.TempDir()
	script := strings.Replace(fakeIncusScript,
		`*"--format=csv -c n") : ;;`,
		`*"--format=csv -c n") echo "capsule-a1b2c3d4-1" ;;`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incus"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("INCUS_STUB_LOG", filepath.Join(dir, "calls.log"))
	t.Setenv("INCUS_STUB_STATUS", "RUNNING")

	c := newTestCapsule(t)
	session := &types.Session{
		ID:            "sess-live",
		Workspace:     "/w",
		ContainerName: "capsule-a1b2c3d4-1",
	}
	require.NoError(t, c.Store.Save(session))

	err := c.RemoveSession(context.Background(), "sess-live")
	assert.Error(t, err)

	_, err = c.Store.Load("sess-live")
	assert.NoError(t, err)
}
