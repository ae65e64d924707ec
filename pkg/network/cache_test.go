package network

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), "capsule-a1b2c3d4-1")

	cache := NewIPCache()
	cache.Domains["example.com"] = []string{"93.184.216.34"}
	cache.LastUpdate = time.Now()
	require.NoError(t, cm.Save(cache))

	got, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"93.184.216.34"}, got.Domains["example.com"])
	assert.False(t, got.LastUpdate.IsZero())
}

func TestCacheLoadMissingIsEmpty(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), "capsule-ffffffff-1")

	got, err := cm.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Domains)
}

func TestCacheLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	cm := NewCacheManager(dir, "capsule-a1b2c3d4-1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capsule-a1b2c3d4-1.json"), []byte("{"), 0o644))

	_, err := cm.Load()
	assert.Error(t, err)
}

func TestCacheDelete(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), "capsule-a1b2c3d4-1")
	require.NoError(t, cm.Save(NewIPCache()))
	require.NoError(t, cm.Delete())
	// Deleting a missing file is fine.
	assert.NoError(t, cm.Delete())
}

func TestIPsUnchanged(t *testing.T) {
	assert.True(t, IPsUnchanged([]string{"1.1.1.1", "2.2.2.2"}, []string{"2.2.2.2", "1.1.1.1"}))
	assert.False(t, IPsUnchanged([]string{"1.1.1.1"}, []string{"2.2.2.2"}))
	assert.False(t, IPsUnchanged([]string{"1.1.1.1"}, []string{"1.1.1.1", "2.2.2.2"}))
	assert.True(t, IPsUnchanged(nil, nil))
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"9.9.9.9", "1.1.1.1", "9.9.9.9"})
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9"}, got)
}
