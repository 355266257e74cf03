// Package store persists the shared event collection and its advisory lock
// as JSON files inside a single data directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"calshare/internal/log"
	"calshare/internal/model"
)

const eventsFile = "events.json"

// ErrLockUnavailable means the storage-level write lock could not be taken
// because another replace is in flight. Distinct from the application-level
// advisory lock in lock.go; this one only guards the file write itself.
var ErrLockUnavailable = errors.New("store is locked for writing")

// Store reads and writes the event collection as one atomic unit.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open prepares the data directory and lazily initializes the events file
// to an empty collection so a first Fetch never fails.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{dir: dir}
	path := s.eventsPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeLocked(model.EmptyCollection()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) eventsPath() string {
	return filepath.Join(s.dir, eventsFile)
}

// Fetch returns the current persisted collection. A missing or empty file
// yields an empty collection; legacy-shaped documents are migrated on read.
func (s *Store) Fetch() (model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.eventsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.EmptyCollection(), nil
		}
		return model.Collection{}, fmt.Errorf("read events file: %w", err)
	}
	return model.Migrate(data)
}

// Replace atomically overwrites the entire persisted collection. It takes a
// storage-level exclusive lock for the duration of the write; concurrent
// Replace calls from other processes fail with ErrLockUnavailable instead
// of interleaving partial writes.
func (s *Store) Replace(c model.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.writeLock()
	if err != nil {
		return err
	}
	defer unlock()

	return s.writeLocked(c)
}

// writeLockStaleAge bounds how long the write-lock marker may outlive its
// writer. The write it guards takes milliseconds, so a marker this old
// belongs to a crashed process and must not wedge every future Replace.
const writeLockStaleAge = 30 * time.Second

// writeLock creates the exclusive marker file guarding Replace. It spans
// processes: O_EXCL creation fails when another writer holds it. A marker
// past writeLockStaleAge is removed and creation retried once.
func (s *Store) writeLock() (func(), error) {
	path := s.eventsPath() + ".lock"
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("take write lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if attempt > 0 || statErr != nil || time.Since(info.ModTime()) <= writeLockStaleAge {
			return nil, ErrLockUnavailable
		}
		log.Warn("removing stale write lock", "path", path, "age", time.Since(info.ModTime()))
		os.Remove(path)
	}
}

// writeLocked writes the collection via temp file + rename so readers never
// observe a partial document. Caller holds s.mu.
func (s *Store) writeLocked(c model.Collection) error {
	if c.Entries == nil {
		c.Entries = []model.Event{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.eventsPath())
}
