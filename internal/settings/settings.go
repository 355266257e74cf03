// Package settings stores display settings shared by all users.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	settingsFile = "settings.json"

	// DefaultTitle is shown until an admin sets one.
	DefaultTitle = "Shared Calendar"
)

// ErrEmptyTitle rejects a blank calendar title.
var ErrEmptyTitle = errors.New("title cannot be empty")

type document struct {
	CalendarTitle string `json:"calendar_title"`
}

// Store reads and writes the settings file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a settings store under dir.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, settingsFile)}
}

// Title returns the calendar title, falling back to the default when the
// file is missing or unreadable.
func (s *Store) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultTitle
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.CalendarTitle == "" {
		return DefaultTitle
	}
	return doc.CalendarTitle
}

// SetTitle updates the calendar title. Other settings keys in the file are
// preserved by reading the current document first.
func (s *Store) SetTitle(title string) error {
	if title == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]any{}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &doc)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read settings file: %w", err)
	}
	doc["calendar_title"] = title

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
