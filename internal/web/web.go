// Package web exposes the calendar over HTTP: the events/lock API consumed
// by clients, login/session endpoints, admin user management, settings, an
// ICS export feed and a small embedded UI.
package web

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"calshare/internal/auth"
	"calshare/internal/config"
	appLog "calshare/internal/log"
	"calshare/internal/settings"
	"calshare/internal/store"
)

const sessionCookie = "calshare_session"

// Server routes API requests to the store, lock manager and auth service.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	locks    *store.LockManager
	auth     *auth.Service
	settings *settings.Store
	mux      *http.ServeMux
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, locks *store.LockManager, authSvc *auth.Service, set *settings.Store) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		locks:    locks,
		auth:     authSvc,
		settings: set,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("GET /api/events", s.requireAuth(s.handleGetEvents))
	s.mux.Handle("POST /api/events", s.requireAuth(s.handleSaveEvents))

	s.mux.Handle("GET /api/lock/acquire", s.requireAuth(s.handleAcquireLock))
	s.mux.Handle("GET /api/lock/release", s.requireAuth(s.handleReleaseLock))
	s.mux.Handle("GET /api/lock/status", s.requireAuth(s.handleLockStatus))

	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/auth/current", s.handleCurrentUser)

	// The title is readable without a session so the login page can show it.
	s.mux.HandleFunc("GET /api/settings/title", s.handleGetTitle)
	s.mux.Handle("POST /api/settings/title", s.requireAdmin(s.handleSetTitle))

	s.mux.Handle("GET /api/users", s.requireAdmin(s.handleListUsers))
	s.mux.Handle("POST /api/users", s.requireAdmin(s.handleAddUser))
	s.mux.Handle("POST /api/users/delete", s.requireAdmin(s.handleDeleteUser))
	s.mux.Handle("POST /api/users/password", s.requireAuth(s.handleChangePassword))
	s.mux.Handle("GET /api/users/generate-password", s.requireAdmin(s.handleGeneratePassword))

	s.mux.Handle("GET /api/export.ics", s.requireAuth(s.handleExportICS))

	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// session resolves the request's session cookie, if any.
func (s *Server) session(r *http.Request) (auth.Session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return auth.Session{}, false
	}
	return s.auth.Lookup(c.Value)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, sess auth.Session)

// requireAuth rejects requests without a live session.
func (s *Server) requireAuth(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(r)
		if !ok {
			writeFailure(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r, sess)
	})
}

// requireAdmin additionally rejects non-admin sessions.
func (s *Server) requireAdmin(next authedHandler) http.Handler {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, sess auth.Session) {
		if !sess.IsAdmin {
			writeFailure(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r, sess)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// staticFileServer serves the embedded UI for all non-API paths.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API paths never fall through to the static UI; a missing API
		// route must 404 as JSON semantics, not serve HTML.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			writeFailure(w, http.StatusNotFound, "Invalid action")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// writeFailure emits the {"success":false,"message":...} failure shape.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
	})
}
