package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"calshare/internal/auth"
	appLog "calshare/internal/log"
	"calshare/internal/model"
	"calshare/internal/store"
)

// handleGetEvents returns the whole persisted collection.
//
// GET /api/events -> {"success":true,"events":{"entries":[...]}}
func (s *Server) handleGetEvents(w http.ResponseWriter, _ *http.Request, _ auth.Session) {
	events, err := s.store.Fetch()
	if err != nil {
		appLog.Error("fetch events failed", err)
		writeFailure(w, http.StatusInternalServerError, "Error reading events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  events,
	})
}

// handleSaveEvents replaces the whole persisted collection. This is the
// merge-based save path; clients making a discrete edit are expected to
// hold the advisory lock around fetch-modify-save.
//
// POST /api/events {"events":{"entries":[...]}}
func (s *Server) handleSaveEvents(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var body struct {
		Events *json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Events == nil {
		writeFailure(w, http.StatusBadRequest, "No events data provided")
		return
	}

	// Accept legacy-shaped payloads the same way reads do.
	events, err := model.Migrate(*body.Events)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Events must be an object")
		return
	}

	if err := s.store.Replace(events); err != nil {
		if errors.Is(err, store.ErrLockUnavailable) {
			writeFailure(w, http.StatusServiceUnavailable, "Could not lock file for writing")
			return
		}
		appLog.Error("save events failed", err, "user", sess.Username)
		writeFailure(w, http.StatusInternalServerError, "Error saving events")
		return
	}

	appLog.Info("events saved", "user", sess.Username, "entry_count", len(events.Entries))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Events saved successfully",
	})
}

// handleAcquireLock stamps the advisory lock for the calling session.
//
// GET /api/lock/acquire -> {"success":true,"lockData":{...}} or
// {"success":false,"locked":true,"lockAge":n,"retryAfter":n}
func (s *Server) handleAcquireLock(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	lock, err := s.locks.Acquire(sess.Username, sess.ID)
	if err != nil {
		var busy *store.BusyError
		if errors.As(err, &busy) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"success":    false,
				"locked":     true,
				"message":    "Resource is locked",
				"lockAge":    int(busy.Age.Seconds()),
				"retryAfter": int(busy.RetryAfter.Seconds()),
			})
			return
		}
		appLog.Error("acquire lock failed", err, "user", sess.Username)
		writeFailure(w, http.StatusInternalServerError, "Error acquiring lock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Lock acquired",
		"lockData": lock,
	})
}

// GET /api/lock/release -> {"success":true}
func (s *Server) handleReleaseLock(w http.ResponseWriter, _ *http.Request, sess auth.Session) {
	if err := s.locks.Release(); err != nil {
		appLog.Error("release lock failed", err, "user", sess.Username)
		writeFailure(w, http.StatusInternalServerError, "Error releasing lock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Lock released",
	})
}

// GET /api/lock/status -> {"success":true,"locked":false} or
// {"success":true,"locked":true,"lockAge":n,"lockData":{...}}
func (s *Server) handleLockStatus(w http.ResponseWriter, _ *http.Request, _ auth.Session) {
	lock, locked, err := s.locks.Status()
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "Error checking lock")
		return
	}
	if !locked {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"locked":  false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"locked":   true,
		"lockAge":  int(lock.Age(time.Now()).Seconds()),
		"lockData": lock,
	})
}
