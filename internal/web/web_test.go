package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calshare/internal/auth"
	"calshare/internal/config"
	"calshare/internal/settings"
	"calshare/internal/store"
)

type testServer struct {
	ts    *httptest.Server
	locks *store.LockManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(dir)
	require.NoError(t, err)
	locks := store.NewLockManager(dir, 10*time.Second)

	authSvc := auth.New(dir, time.Hour)
	require.NoError(t, authSvc.Bootstrap("admin", "secret123", "Admin"))
	require.NoError(t, authSvc.AddUser("alice", "secret123", "Alice", false, "admin"))

	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	ts := httptest.NewServer(NewServer(cfg, st, locks, authSvc, settings.New(dir)).Handler())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, locks: locks}
}

// login returns an http client whose jar carries a session for username.
func (s *testServer) login(t *testing.T, username string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar}

	body := fmt.Sprintf(`{"username":%q,"password":"secret123"}`, username)
	resp, err := c.Post(s.ts.URL+"/api/auth/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return c
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/events", "/api/lock/acquire", "/api/export.ics"} {
		resp, err := http.Get(s.ts.URL + path)
		require.NoError(t, err)
		body := decode(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, false, body["success"], path)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Post(s.ts.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid username or password", body["message"])
}

func TestCurrentUser(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	resp, err := c.Get(s.ts.URL + "/api/auth/current")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "Alice", user["full_name"])
	assert.Equal(t, false, user["is_admin"])
}

func TestLogoutEndsSession(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	resp, err := c.Post(s.ts.URL+"/api/auth/logout", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = c.Get(s.ts.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsSaveAndGet(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	payload := `{"events":{"entries":[{"id":1,"title":"Dentist","author":"Alice","startDate":"2024-05-02","endDate":"2024-05-02","timestamp":"2024-05-01T08:00:00Z"}]}}`
	resp, err := c.Post(s.ts.URL+"/api/events", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, err = c.Get(s.ts.URL + "/api/events")
	require.NoError(t, err)
	body = decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].(map[string]any)
	entries := events["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "Dentist", entries[0].(map[string]any)["title"])
}

func TestSaveEventsAcceptsLegacyShape(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	payload := `{"events":{"2024-05-02":[{"title":"Dentist","author":"Alice","timestamp":"2024-05-01T08:00:00Z"}]}}`
	resp, err := c.Post(s.ts.URL+"/api/events", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, err = c.Get(s.ts.URL + "/api/events")
	require.NoError(t, err)
	body = decode(t, resp)
	entries := body["events"].(map[string]any)["entries"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "2024-05-02", first["startDate"])
	assert.NotZero(t, first["id"])
}

func TestSaveEventsRejectsMissingBody(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	resp, err := c.Post(s.ts.URL+"/api/events", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No events data provided", body["message"])
}

func TestLockAcquireBusyShape(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	resp, err := c.Get(s.ts.URL + "/api/lock/acquire")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lockData := body["lockData"].(map[string]any)
	assert.Equal(t, "alice", lockData["user"])
	assert.NotEmpty(t, lockData["sessionId"])

	// A second actor sees the busy shape with an age and retry hint.
	c2 := s.login(t, "admin")
	resp, err = c2.Get(s.ts.URL + "/api/lock/acquire")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["locked"])
	assert.LessOrEqual(t, body["lockAge"].(float64), float64(10))
	assert.Greater(t, body["retryAfter"].(float64), float64(0))

	// Release frees it for anyone.
	resp, err = c.Get(s.ts.URL + "/api/lock/release")
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = c2.Get(s.ts.URL + "/api/lock/acquire")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
}

func TestLockStatus(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	resp, err := c.Get(s.ts.URL + "/api/lock/status")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, false, body["locked"])

	resp, err = c.Get(s.ts.URL + "/api/lock/acquire")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = c.Get(s.ts.URL + "/api/lock/status")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, "alice", body["lockData"].(map[string]any)["user"])
}

func TestTitleEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Readable without a session.
	resp, err := http.Get(s.ts.URL + "/api/settings/title")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, settings.DefaultTitle, body["calendar_title"])

	// Writable by admins only.
	alice := s.login(t, "alice")
	resp, err = alice.Post(s.ts.URL+"/api/settings/title", "application/json",
		strings.NewReader(`{"title":"Family Calendar"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := s.login(t, "admin")
	resp, err = admin.Post(s.ts.URL+"/api/settings/title", "application/json",
		strings.NewReader(`{"title":"Family Calendar"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.ts.URL + "/api/settings/title")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, "Family Calendar", body["calendar_title"])
}

func TestUserManagement(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin")
	alice := s.login(t, "alice")

	// Non-admins cannot touch user management.
	resp, err := alice.Get(s.ts.URL + "/api/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = admin.Post(s.ts.URL+"/api/users", "application/json",
		strings.NewReader(`{"username":"bob","password":"hunter22","full_name":"Bob"}`))
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, err = admin.Get(s.ts.URL + "/api/users")
	require.NoError(t, err)
	body = decode(t, resp)
	users := body["users"].([]any)
	assert.Len(t, users, 3)

	resp, err = admin.Post(s.ts.URL+"/api/users/delete", "application/json",
		strings.NewReader(`{"username":"bob"}`))
	require.NoError(t, err)
	body = decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Self-deletion is a 400.
	resp, err = admin.Post(s.ts.URL+"/api/users/delete", "application/json",
		strings.NewReader(`{"username":"admin"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGeneratePasswordEndpoint(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin")

	resp, err := admin.Get(s.ts.URL + "/api/users/generate-password")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["password"].(string), 12)
}

func TestExportICS(t *testing.T) {
	s := newTestServer(t)
	c := s.login(t, "alice")

	payload := `{"events":{"entries":[
		{"id":1,"title":"Dentist","author":"Alice","startDate":"2024-05-02","endDate":"2024-05-02","timestamp":"2024-05-01T08:00:00Z"},
		{"id":2,"title":"Birthday","author":"Alice","startDate":"0000-06-15","endDate":"0000-06-15","timestamp":"2024-05-01T08:00:00Z"}
	]}}`
	resp, err := c.Post(s.ts.URL+"/api/events", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = c.Get(s.ts.URL + "/api/export.ics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	ics := string(data)
	assert.Contains(t, ics, "BEGIN:VCALENDAR")
	assert.Contains(t, ics, "SUMMARY:Dentist")
	assert.Contains(t, ics, "SUMMARY:Birthday")
	assert.Contains(t, ics, "RRULE:FREQ=YEARLY")
}

func TestUnknownAPIPathIsJSON404(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.ts.URL + "/api/nonsense")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Invalid action", body["message"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
