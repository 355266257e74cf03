package client

import (
	"context"
	"errors"
	"reflect"
	"sync"

	appLog "calshare/internal/log"
	"calshare/internal/model"
)

// SyncStatus is the client's visible sync state.
type SyncStatus string

const (
	// StatusSynced means the live view matches the server.
	StatusSynced SyncStatus = "synced"
	// StatusSyncing means a fetch or save is in flight.
	StatusSyncing SyncStatus = "syncing"
	// StatusOffline means the server is unreachable; the view comes from
	// the local cache.
	StatusOffline SyncStatus = "offline"
	// StatusPending means a change could not be committed and awaits a
	// manual retry.
	StatusPending SyncStatus = "pending"
)

// Session holds the client's live view of the calendar and all mutable
// client state: the current collection, the sync status and the in-flight
// save guard. All mutation goes through Apply; Reconcile and the poller
// only replace the view wholesale.
type Session struct {
	api   *Client
	cache *Cache
	actor Actor

	mu       sync.Mutex
	view     model.Collection
	status   SyncStatus
	saving   bool
	onChange func(model.Collection)
}

// NewSession creates a session for the given actor. onChange, if non-nil,
// is invoked with the new view whenever it is replaced by reconciliation or
// polling (not by the caller's own Apply, whose result is returned
// directly).
func NewSession(api *Client, cache *Cache, actor Actor, onChange func(model.Collection)) *Session {
	return &Session{
		api:      api,
		cache:    cache,
		actor:    actor,
		view:     cache.Load(),
		status:   StatusSynced,
		onChange: onChange,
	}
}

// SetOnChange installs the callback invoked when reconciliation or polling
// replaces the view.
func (s *Session) SetOnChange(fn func(model.Collection)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// View returns a copy of the live collection.
func (s *Session) View() model.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Clone()
}

// Status returns the current sync status.
func (s *Session) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status SyncStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// adopt replaces the live view and the disk cache with the given
// collection.
func (s *Session) adopt(events model.Collection, status SyncStatus) {
	s.mu.Lock()
	s.view = events
	s.status = status
	s.mu.Unlock()
	if err := s.cache.Save(events); err != nil {
		appLog.Warn("failed to persist events cache", "err", err)
	}
}

// Reconcile merges the locally cached collection against the server copy
// and pushes the merged result back when it differs from the server's.
// This is the startup path, used when no single discrete change is known.
// On network failure the session degrades to offline mode over the cache.
func (s *Session) Reconcile(ctx context.Context) error {
	s.setStatus(StatusSyncing)

	server, err := s.api.FetchEvents(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			s.setStatus(StatusPending)
			return err
		}
		appLog.Warn("server unreachable, using cached events", "err", err)
		s.adopt(s.cache.Load(), StatusOffline)
		return nil
	}

	merged := Merge(server, s.cache.Load())
	if !reflect.DeepEqual(server, merged) {
		// The merge resurrected offline work; push it back. This save is
		// lock-free, so it is used only here and never for discrete edits.
		if err := s.api.SaveEvents(ctx, merged); err != nil {
			appLog.Warn("failed to push merged events, queuing retry", "err", err)
			s.adopt(merged, StatusPending)
			return nil
		}
	}
	s.adopt(merged, StatusSynced)
	return nil
}
