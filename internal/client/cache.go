package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	appLog "calshare/internal/log"
	"calshare/internal/model"
)

// Cache is the client-held snapshot of the collection, persisted across
// runs. It is disposable: the server copy is authoritative and the cache is
// only read when the server is unreachable and as a merge input.
type Cache struct {
	path string
}

// NewCache creates a cache backed by the given file path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Load returns the cached collection. A missing or unreadable cache yields
// an empty collection; the cache must never make the client fail.
func (c *Cache) Load() model.Collection {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return model.EmptyCollection()
	}
	events, err := model.Migrate(data)
	if err != nil {
		appLog.Warn("discarding corrupt events cache", "path", c.path, "err", err)
		return model.EmptyCollection()
	}
	return events
}

// Save persists the collection to the cache file.
func (c *Cache) Save(events model.Collection) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// Merge reconciles the local collection against the server one. The result
// is the union keyed by entry id; when both sides carry an id, the entry
// with the later timestamp survives, ties favoring local. Server-side order
// is preserved; local-only entries append in their own order.
func Merge(server, local model.Collection) model.Collection {
	out := server.Clone()
	index := make(map[int64]int, len(out.Entries))
	for i, e := range out.Entries {
		index[e.ID] = i
	}

	for _, le := range local.Entries {
		if i, ok := index[le.ID]; ok {
			if le.Timestamp >= out.Entries[i].Timestamp {
				out.Entries[i] = le
			}
			continue
		}
		index[le.ID] = len(out.Entries)
		out.Entries = append(out.Entries, le)
	}
	return out
}
