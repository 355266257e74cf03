// Package auth manages the users file and login sessions.
package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"calshare/internal/model"
)

const usersFile = "users.json"

var (
	ErrUnauthenticated  = errors.New("authentication required")
	ErrForbidden        = errors.New("admin access required")
	ErrBadCredentials   = errors.New("invalid username or password")
	ErrUserExists       = errors.New("username already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidUsername  = errors.New("username must be 3-20 characters (letters, numbers, underscore only)")
	ErrWeakPassword     = errors.New("password must be at least 6 characters")
	ErrSelfDelete       = errors.New("cannot delete your own account")
	ErrWrongPassword    = errors.New("current password is incorrect")
	ErrNotOwnPassword   = errors.New("you can only change your own password")
	ErrLastAdminRemoval = errors.New("cannot remove the last admin")
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// userRecord is the persisted per-user entry, keyed by username in the
// users file.
type userRecord struct {
	PasswordHash      string `json:"password_hash"`
	FullName          string `json:"full_name"`
	IsAdmin           bool   `json:"is_admin"`
	CreatedAt         string `json:"created_at"`
	CreatedBy         string `json:"created_by,omitempty"`
	PasswordChangedAt string `json:"password_changed_at,omitempty"`
	PasswordChangedBy string `json:"password_changed_by,omitempty"`
}

// UserInfo is the public view of a user (no password hash).
type UserInfo struct {
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at"`
}

// Session represents a logged-in actor.
type Session struct {
	ID       string
	Username string
	FullName string
	IsAdmin  bool

	expiresAt time.Time
}

// Service authenticates users against the users file and tracks sessions
// in memory, keyed by an opaque cookie value.
type Service struct {
	path       string
	sessionTTL time.Duration

	mu          sync.Mutex
	sessions    map[string]Session
	lastCleanup time.Time
}

const sessionCleanupInterval = 30 * time.Minute

// New creates a Service storing users under dir.
func New(dir string, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		path:       filepath.Join(dir, usersFile),
		sessionTTL: sessionTTL,
		sessions:   make(map[string]Session),
	}
}

// Bootstrap creates the users file with a single admin account when no
// users exist yet. It is a no-op on an initialized deployment.
func (s *Service) Bootstrap(username, password, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	users[username] = userRecord{
		PasswordHash: string(hash),
		FullName:     fullName,
		IsAdmin:      true,
		CreatedAt:    model.Now(),
	}
	return s.save(users)
}

// Login verifies credentials and opens a new session.
func (s *Service) Login(username, password string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return Session{}, err
	}
	rec, ok := users[username]
	if !ok {
		return Session{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrBadCredentials
	}

	s.cleanupLocked(time.Now())
	sess := Session{
		ID:        uuid.NewString(),
		Username:  username,
		FullName:  rec.FullName,
		IsAdmin:   rec.IsAdmin,
		expiresAt: time.Now().Add(s.sessionTTL),
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

// Logout drops the session. Unknown IDs are ignored.
func (s *Service) Logout(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Lookup resolves a session cookie value to a live session.
func (s *Service) Lookup(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.cleanupLocked(now)
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	if now.After(sess.expiresAt) {
		delete(s.sessions, sessionID)
		return Session{}, false
	}
	return sess, true
}

func (s *Service) cleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < sessionCleanupInterval {
		return
	}
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
		}
	}
	s.lastCleanup = now
}

// ListUsers returns all users without password hashes, sorted by username.
func (s *Service) ListUsers() ([]UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]UserInfo, 0, len(users))
	for name, rec := range users {
		out = append(out, UserInfo{
			Username:  name,
			FullName:  rec.FullName,
			IsAdmin:   rec.IsAdmin,
			CreatedAt: rec.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// AddUser creates a new account. createdBy is the acting admin's username.
func (s *Service) AddUser(username, password, fullName string, isAdmin bool, createdBy string) error {
	if !usernameRe.MatchString(username) {
		return ErrInvalidUsername
	}
	if len(password) < 6 {
		return ErrWeakPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := users[username]; exists {
		return ErrUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	users[username] = userRecord{
		PasswordHash: string(hash),
		FullName:     fullName,
		IsAdmin:      isAdmin,
		CreatedAt:    model.Now(),
		CreatedBy:    createdBy,
	}
	return s.save(users)
}

// DeleteUser removes an account. An admin cannot delete their own account,
// and the last remaining admin cannot be removed.
func (s *Service) DeleteUser(username, actingUser string) error {
	if username == actingUser {
		return ErrSelfDelete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := users[username]
	if !ok {
		return ErrUserNotFound
	}
	if rec.IsAdmin && countAdmins(users) == 1 {
		return ErrLastAdminRemoval
	}
	delete(users, username)
	if err := s.save(users); err != nil {
		return err
	}

	// Invalidate any live sessions for the deleted account.
	for id, sess := range s.sessions {
		if sess.Username == username {
			delete(s.sessions, id)
		}
	}
	return nil
}

func countAdmins(users map[string]userRecord) int {
	n := 0
	for _, rec := range users {
		if rec.IsAdmin {
			n++
		}
	}
	return n
}

// ChangePassword updates a password. Admins may change anyone's; other
// users may only change their own and must supply the current password.
func (s *Service) ChangePassword(actor Session, targetUsername, currentPassword, newPassword string) error {
	if targetUsername == "" {
		targetUsername = actor.Username
	}
	if !actor.IsAdmin && targetUsername != actor.Username {
		return ErrNotOwnPassword
	}
	if len(newPassword) < 6 {
		return ErrWeakPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := users[targetUsername]
	if !ok {
		return ErrUserNotFound
	}
	if !actor.IsAdmin {
		if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(currentPassword)) != nil {
			return ErrWrongPassword
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	rec.PasswordHash = string(hash)
	rec.PasswordChangedAt = model.Now()
	rec.PasswordChangedBy = actor.Username
	users[targetUsername] = rec
	return s.save(users)
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// GeneratePassword returns a random 12-character password.
func GeneratePassword() (string, error) {
	out := make([]byte, 12)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// load reads the users file. A missing file yields an empty map so a fresh
// deployment can bootstrap itself.
func (s *Service) load() (map[string]userRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]userRecord{}, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var users map[string]userRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	if users == nil {
		users = map[string]userRecord{}
	}
	return users, nil
}

func (s *Service) save(users map[string]userRecord) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".users-*.tmp")
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
