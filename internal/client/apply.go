package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calshare/internal/dates"
	appLog "calshare/internal/log"
	"calshare/internal/model"
	"calshare/internal/store"
)

// ChangeKind selects which semantic change Apply performs.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeEdit
	ChangeDelete
)

// Change is one semantic change to the collection. Add and Edit use Entry;
// Edit and Delete locate the target by ID (Edit takes it from Entry.ID).
type Change struct {
	Kind  ChangeKind
	Entry model.Event
	ID    int64
}

const (
	// maxApplyRetries bounds the lock-contention retry loop.
	maxApplyRetries = 15
	// busyBackoffCap caps the sleep between attempts when the lock is held
	// elsewhere, regardless of the server's retry hint.
	busyBackoffCap = time.Second
	// saveBackoff is the sleep after a failed save.
	saveBackoff = 500 * time.Millisecond
)

var (
	// ErrGiveUp means the retry budget is exhausted; the session is left in
	// pending state for a manual retry.
	ErrGiveUp = errors.New("could not commit change, retry budget exhausted")
	// ErrConflict means the entry being edited was deleted elsewhere. The
	// edit is not applied; the caller decides whether to recreate it.
	ErrConflict = errors.New("entry was deleted by another user")
	// ErrValidation wraps all precondition failures detected before any
	// network call.
	ErrValidation = errors.New("invalid entry")
)

// Apply commits exactly one change against fresh server state, holding the
// advisory lock across the fetch-modify-save sequence:
//
//	acquire lock -> fetch fresh -> apply the change -> save -> release
//
// A busy lock or a failed save is retried with a bounded backoff up to
// maxApplyRetries attempts. The returned collection is the committed server
// state, which also becomes the session's live view and cache.
func (s *Session) Apply(ctx context.Context, change Change) (model.Collection, error) {
	if err := validate(change); err != nil {
		return model.Collection{}, err
	}

	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return model.Collection{}, errors.New("another save is in flight")
	}
	s.saving = true
	s.status = StatusSyncing
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		if _, err := s.api.AcquireLock(ctx); err != nil {
			var busy *store.BusyError
			if errors.As(err, &busy) {
				appLog.Debug("lock busy, backing off",
					"attempt", attempt+1, "retry_after", busy.RetryAfter)
				if err := sleep(ctx, min(busy.RetryAfter, busyBackoffCap)); err != nil {
					s.setStatus(StatusPending)
					return model.Collection{}, err
				}
				continue
			}
			s.setStatus(StatusOffline)
			return model.Collection{}, fmt.Errorf("acquire lock: %w", err)
		}

		updated, err := s.applyOnce(ctx, change)
		if err == nil {
			s.adopt(updated, StatusSynced)
			return updated, nil
		}
		if errors.Is(err, ErrConflict) {
			// Not retryable: the target is gone and retrying cannot bring
			// it back. Surface the conflict instead of resurrecting data.
			s.setStatus(StatusSynced)
			return model.Collection{}, err
		}
		appLog.Warn("apply attempt failed, retrying",
			"attempt", attempt+1, "err", err)
		if err := sleep(ctx, saveBackoff); err != nil {
			s.setStatus(StatusPending)
			return model.Collection{}, err
		}
	}

	s.setStatus(StatusPending)
	return model.Collection{}, ErrGiveUp
}

// applyOnce runs one fetch-modify-save while the advisory lock is held.
// The lock is always released, even when the save fails.
func (s *Session) applyOnce(ctx context.Context, change Change) (updated model.Collection, err error) {
	defer func() {
		if rerr := s.api.ReleaseLock(ctx); rerr != nil {
			// The lock self-expires; losing a release is logged, not fatal.
			appLog.Warn("failed to release lock", "err", rerr)
		}
	}()

	fresh, err := s.api.FetchEvents(ctx)
	if err != nil {
		return model.Collection{}, fmt.Errorf("fetch fresh state: %w", err)
	}

	switch change.Kind {
	case ChangeAdd:
		entry := change.Entry
		entry.ID = model.NewID()
		entry.Author = s.actor.FullName
		entry.Timestamp = model.Now()
		fresh.Entries = append(fresh.Entries, entry)

	case ChangeEdit:
		i := fresh.IndexOf(change.Entry.ID)
		if i < 0 {
			return model.Collection{}, ErrConflict
		}
		entry := change.Entry
		// The creation author sticks across edits.
		entry.Author = fresh.Entries[i].Author
		entry.Timestamp = model.Now()
		fresh.Entries[i] = entry

	case ChangeDelete:
		i := fresh.IndexOf(change.ID)
		if i < 0 {
			// Already deleted elsewhere: the outcome the caller wanted.
			// Adopt the fetched state as local truth instead of merging,
			// which could resurrect the entry.
			return fresh, nil
		}
		fresh.Entries = append(fresh.Entries[:i], fresh.Entries[i+1:]...)

	default:
		return model.Collection{}, fmt.Errorf("unknown change kind %d", change.Kind)
	}

	if err := s.api.SaveEvents(ctx, fresh); err != nil {
		return model.Collection{}, fmt.Errorf("save: %w", err)
	}
	return fresh, nil
}

// validate rejects bad changes before any network traffic.
func validate(change Change) error {
	switch change.Kind {
	case ChangeAdd, ChangeEdit:
		if strings.TrimSpace(change.Entry.Title) == "" {
			return fmt.Errorf("%w: title is required", ErrValidation)
		}
		if err := dates.ValidateRange(change.Entry.StartDate, change.Entry.EndDate); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if change.Kind == ChangeEdit && change.Entry.ID == 0 {
			return fmt.Errorf("%w: missing entry id", ErrValidation)
		}
	case ChangeDelete:
		if change.ID == 0 {
			return fmt.Errorf("%w: missing entry id", ErrValidation)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
