package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"calshare/internal/auth"
	appLog "calshare/internal/log"
)

type userPayload struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// POST /api/auth/login {"username":...,"password":...}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Username and password required")
		return
	}

	sess, err := s.auth.Login(body.Username, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			writeFailure(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		appLog.Error("login failed", err, "user", body.Username)
		writeFailure(w, http.StatusInternalServerError, "Login error")
		return
	}

	s.setSessionCookie(w, sess.ID, s.cfg.SessionTTL())
	appLog.Info("user logged in", "user", sess.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"user": userPayload{
			Username: sess.Username,
			FullName: sess.FullName,
			IsAdmin:  sess.IsAdmin,
		},
	})
}

// POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.auth.Logout(c.Value)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// GET /api/auth/current
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(r)
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userPayload{
			Username: sess.Username,
			FullName: sess.FullName,
			IsAdmin:  sess.IsAdmin,
		},
	})
}

// GET /api/settings/title
func (s *Server) handleGetTitle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"calendar_title": s.settings.Title(),
	})
}

// POST /api/settings/title {"title":...} (admin)
func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Title cannot be empty")
		return
	}
	if err := s.settings.SetTitle(body.Title); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	appLog.Info("calendar title updated", "user", sess.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Calendar title updated",
	})
}

// GET /api/users (admin)
func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request, _ auth.Session) {
	users, err := s.auth.ListUsers()
	if err != nil {
		appLog.Error("list users failed", err)
		writeFailure(w, http.StatusInternalServerError, "Error listing users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
	})
}

// POST /api/users {"username":...,"password":...,"full_name":...,"is_admin":bool} (admin)
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		body.Username == "" || body.Password == "" || body.FullName == "" {
		writeFailure(w, http.StatusBadRequest, "Username, password, and full name required")
		return
	}
	if err := s.auth.AddUser(body.Username, body.Password, body.FullName, body.IsAdmin, sess.Username); err != nil {
		writeFailure(w, statusForAuthErr(err), err.Error())
		return
	}
	appLog.Info("user created", "user", body.Username, "created_by", sess.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User created successfully",
	})
}

// POST /api/users/delete {"username":...} (admin)
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		writeFailure(w, http.StatusBadRequest, "Username required")
		return
	}
	if err := s.auth.DeleteUser(body.Username, sess.Username); err != nil {
		writeFailure(w, statusForAuthErr(err), err.Error())
		return
	}
	appLog.Info("user deleted", "user", body.Username, "deleted_by", sess.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted successfully",
	})
}

// POST /api/users/password {"username"?,"current_password"?,"new_password":...}
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	var body struct {
		Username        string `json:"username"`
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewPassword == "" {
		writeFailure(w, http.StatusBadRequest, "New password required")
		return
	}
	if err := s.auth.ChangePassword(sess, body.Username, body.CurrentPassword, body.NewPassword); err != nil {
		writeFailure(w, statusForAuthErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed successfully",
	})
}

// GET /api/users/generate-password (admin)
func (s *Server) handleGeneratePassword(w http.ResponseWriter, _ *http.Request, _ auth.Session) {
	password, err := auth.GeneratePassword()
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "Error generating password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"password": password,
	})
}

func statusForAuthErr(err error) int {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrNotOwnPassword), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserExists),
		errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrSelfDelete),
		errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrLastAdminRemoval):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
