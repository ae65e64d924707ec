package network

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IPCache holds the last successful resolution of each allowed domain.
type IPCache struct {
	Domains    map[string][]string `json:"domains"`
	LastUpdate time.Time           `json:"last_update"`
}

// NewIPCache returns an empty cache.
func NewIPCache() *IPCache {
	return &IPCache{Domains: make(map[string][]string)}
}

// CacheManager persists one IPCache per container as a JSON file.
type CacheManager struct {
	path string
}

// NewCacheManager returns a CacheManager storing the cache of the given
// container under baseDir.
func NewCacheManager(baseDir, containerName string) *CacheManager {
	return &CacheManager{path: filepath.Join(baseDir, containerName+".json")}
}

// Load reads the cache from disk. A missing file yields an empty cache.
func (c *CacheManager) Load() (*IPCache, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return NewIPCache(), nil
	}
	if err != nil {
		return nil, err
	}
	cache := NewIPCache()
	if err := json.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("corrupt DNS cache %s: %w", c.path, err)
	}
	if cache.Domains == nil {
		cache.Domains = make(map[string][]string)
	}
	return cache, nil
}

// Save writes the cache to disk atomically.
func (c *CacheManager) Save(cache *IPCache) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Delete removes the cache file. A missing file is not an error.
func (c *CacheManager) Delete() error {
	err := os.Remove(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
