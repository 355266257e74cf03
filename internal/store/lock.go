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

const lockFile = "calendar.lock"

// DefaultLockMaxAge is how long an advisory lock stays live before any
// other actor may take it over.
const DefaultLockMaxAge = 10 * time.Second

// ErrLocked is the sentinel matched by BusyError.
var ErrLocked = errors.New("calendar is locked")

// BusyError reports a live lock held by another acquisition.
type BusyError struct {
	Age        time.Duration
	RetryAfter time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("calendar is locked (age %s, retry after %s)", e.Age, e.RetryAfter)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrLocked
}

// LockManager grants a single time-boxed advisory lock over the event
// store. Locks self-expire: once older than maxAge they may be overwritten
// by anyone, so a crashed holder can never wedge the calendar.
type LockManager struct {
	dir    string
	maxAge time.Duration

	// mu serializes the read-then-write acquire sequence across requests
	// handled by this process.
	mu sync.Mutex

	// now is swappable for staleness tests.
	now func() time.Time
}

// NewLockManager creates a manager over the given data directory. A zero
// maxAge selects DefaultLockMaxAge.
func NewLockManager(dir string, maxAge time.Duration) *LockManager {
	if maxAge <= 0 {
		maxAge = DefaultLockMaxAge
	}
	return &LockManager{dir: dir, maxAge: maxAge, now: time.Now}
}

func (m *LockManager) path() string {
	return filepath.Join(m.dir, lockFile)
}

// Acquire stamps a new lock for the given actor. If a live lock exists it
// returns a BusyError with the lock's age and the time left until
// takeover. A stale lock is overwritten unconditionally; there is no
// ownership check on takeover.
func (m *LockManager) Acquire(user, sessionID string) (model.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, locked, err := m.read()
	if err != nil {
		return model.Lock{}, err
	}
	if locked {
		age := existing.Age(m.now())
		if age < m.maxAge {
			return model.Lock{}, &BusyError{Age: age, RetryAfter: m.maxAge - age}
		}
		log.Warn("taking over stale lock",
			"held_by", existing.User, "age", age, "max_age", m.maxAge)
	}

	lock := model.Lock{
		Timestamp: m.now().Unix(),
		User:      user,
		SessionID: sessionID,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return model.Lock{}, err
	}
	if err := os.WriteFile(m.path(), data, 0o600); err != nil {
		return model.Lock{}, fmt.Errorf("write lock file: %w", err)
	}
	return lock, nil
}

// Release deletes the lock unconditionally. Releasing when no lock exists
// is a no-op success.
func (m *LockManager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.release()
}

func (m *LockManager) release() error {
	err := os.Remove(m.path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Status returns the current lock and whether one is held, without
// acquiring.
func (m *LockManager) Status() (model.Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

func (m *LockManager) read() (model.Lock, bool, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Lock{}, false, nil
		}
		return model.Lock{}, false, fmt.Errorf("read lock file: %w", err)
	}
	var lock model.Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		// A corrupt lock file must not wedge the calendar; treat it as
		// absent and let the next Acquire overwrite it.
		log.Warn("corrupt lock file, treating as unlocked", "err", err)
		return model.Lock{}, false, nil
	}
	return lock, true, nil
}

// Sweep removes locks that are a full max-age past their expiry. Takeover
// in Acquire already handles staleness; this is janitorial so a long-idle
// deployment does not keep a dead lock file around.
func (m *LockManager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, locked, err := m.read()
	if err != nil || !locked {
		return
	}
	if lock.Age(m.now()) > 2*m.maxAge {
		if err := m.release(); err != nil {
			log.Error("stale lock sweep failed", err)
			return
		}
		log.Info("swept stale lock", "held_by", lock.User)
	}
}
