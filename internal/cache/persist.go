package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshot is the on-disk JSON representation of the cache
type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Stats   Stats     `json:"stats"`
	Entries []Entry   `json:"entries"`
}

const snapshotVersion = 1

// Flush writes the current cache contents to disk if anything changed
// since the last flush. The snapshot is written to a temporary file and
// renamed into place so a crash mid-write never corrupts the previous
// snapshot. Persistence failures are logged and never surface to callers.
func (c *Cache) Flush() {
	if c.path == "" {
		return
	}

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: c.now(),
		Stats: Stats{
			Hits:          c.hits,
			Misses:        c.misses,
			TotalRequests: c.hits + c.misses,
			Evictions:     c.evictions,
			Expirations:   c.expirations,
			Entries:       len(c.entries),
			SizeBytes:     c.size,
		},
		Entries: make([]Entry, 0, len(c.entries)),
	}
	for _, entry := range c.entries {
		snap.Entries = append(snap.Entries, *entry)
	}
	c.dirty = false
	c.mu.Unlock()

	if err := writeSnapshot(c.path, &snap); err != nil {
		c.logger.Error("failed to persist cache snapshot", "path", c.path, "error", err)
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
	}
}

func writeSnapshot(path string, snap *snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// loadSnapshot restores cache contents from disk. Any failure (missing
// file, unreadable JSON, version mismatch) starts the cache empty.
func (c *Cache) loadSnapshot() {
	if c.path == "" {
		return
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read cache snapshot, starting empty",
				"path", c.path, "error", err)
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("corrupt cache snapshot, starting empty",
			"path", c.path, "error", err)
		return
	}
	if snap.Version != snapshotVersion {
		c.logger.Warn("cache snapshot version mismatch, starting empty",
			"path", c.path, "version", snap.Version)
		return
	}

	// Sequence numbers are not persisted. Reassign them in creation order
	// (key as a stable secondary) so eviction ties resolve the same way
	// after a restart as they did before it.
	sort.Slice(snap.Entries, func(i, j int) bool {
		if !snap.Entries[i].CreatedAt.Equal(snap.Entries[j].CreatedAt) {
			return snap.Entries[i].CreatedAt.Before(snap.Entries[j].CreatedAt)
		}
		return snap.Entries[i].Key < snap.Entries[j].Key
	})

	now := c.now()
	loaded := 0
	for i := range snap.Entries {
		entry := snap.Entries[i]
		if now.Sub(entry.CreatedAt) > c.ttl {
			continue
		}
		c.seq++
		entry.seq = c.seq
		c.entries[entry.Key] = &entry
		c.size += entry.SizeBytes
		loaded++
	}

	c.hits = snap.Stats.Hits
	c.misses = snap.Stats.Misses
	c.evictions = snap.Stats.Evictions
	c.expirations = snap.Stats.Expirations

	// Restored entries may still exceed the configured budgets
	c.evictLocked()

	c.logger.Info("loaded cache snapshot",
		"path", c.path, "entries", loaded, "skipped", len(snap.Entries)-loaded)
}
