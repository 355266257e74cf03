package client

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	appLog "calshare/internal/log"
)

// DefaultPollSpec is the default polling schedule.
const DefaultPollSpec = "@every 15s"

// Poller periodically re-fetches server state and reconciles it into the
// session's live view when it changed. A tick is skipped when the session
// is offline or pending, a save is in flight, or the previous tick has not
// finished; a failed poll is logged and skipped, never retried eagerly.
type Poller struct {
	session *Session
	cron    *cron.Cron
	spec    string

	inFlight atomic.Bool
}

// NewPoller creates a poller over the session. spec is a cron expression or
// "@every" interval; empty selects DefaultPollSpec.
func NewPoller(session *Session, spec string) *Poller {
	if spec == "" {
		spec = DefaultPollSpec
	}
	return &Poller{
		session: session,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start schedules the polling loop. Ticks stop when ctx is cancelled or
// Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.spec, func() { p.tick(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	context.AfterFunc(ctx, func() { p.cron.Stop() })
	appLog.Info("poller started", "spec", p.spec)
	return nil
}

// Stop halts the schedule; a running tick finishes on its own.
func (p *Poller) Stop() {
	p.cron.Stop()
}

func (p *Poller) tick(ctx context.Context) {
	// Single-slot guard: never pile up concurrent fetches.
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)

	s := p.session
	s.mu.Lock()
	skip := s.saving || s.status == StatusPending || s.status == StatusSyncing
	offline := s.status == StatusOffline
	current := s.view.Clone()
	onChange := s.onChange
	s.mu.Unlock()
	if skip {
		return
	}
	if offline {
		// The plain poll is skipped while offline; instead try a full
		// reconcile, which merges any offline edits back in once the
		// server is reachable again.
		if err := s.Reconcile(ctx); err != nil {
			appLog.Warn("reconnect attempt failed", "err", err)
		} else if onChange != nil && s.Status() == StatusSynced {
			onChange(s.View())
		}
		return
	}

	server, err := s.api.FetchEvents(ctx)
	if err != nil {
		appLog.Warn("poll failed, skipping cycle", "err", err)
		return
	}

	if reflect.DeepEqual(current, server) {
		return
	}

	appLog.Info("server data changed, updating view",
		"old_count", len(current.Entries), "new_count", len(server.Entries))
	s.adopt(server, StatusSynced)
	if onChange != nil {
		onChange(server)
	}
}
