// Package client implements the calendar client: the HTTP API wrapper, the
// offline cache and merge engine, the optimistic change applicator and the
// polling reconciler.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"calshare/internal/model"
	"calshare/internal/store"
)

// Actor identifies the logged-in user on whose behalf changes are made.
type Actor struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// ErrUnauthenticated means the server rejected the session.
var ErrUnauthenticated = errors.New("not authenticated")

// Client wraps the calendar HTTP API. The session cookie from Login is kept
// in the client's cookie jar.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for the given server base URL.
func New(baseURL string) (*Client, error) {
	base := strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
	}, nil
}

// envelope is the common response wrapper used by every API endpoint.
type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Events     json.RawMessage `json:"events"`
	Locked     bool            `json:"locked"`
	LockAge    int             `json:"lockAge"`
	RetryAfter int             `json:"retryAfter"`
	LockData   *model.Lock     `json:"lockData"`
	User       *Actor          `json:"user"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (envelope, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return envelope{}, 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return envelope{}, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("read response from %s: %w", path, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("malformed response from %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return env, resp.StatusCode, ErrUnauthenticated
	}
	return env, resp.StatusCode, nil
}

// Login authenticates and stores the session cookie for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (Actor, error) {
	env, _, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return Actor{}, err
	}
	if !env.Success || env.User == nil {
		return Actor{}, fmt.Errorf("login failed: %s", env.Message)
	}
	return *env.User, nil
}

// CurrentUser returns the actor bound to the current session.
func (c *Client) CurrentUser(ctx context.Context) (Actor, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/api/auth/current", nil)
	if err != nil {
		return Actor{}, err
	}
	if !env.Success || env.User == nil {
		return Actor{}, ErrUnauthenticated
	}
	return *env.User, nil
}

// FetchEvents returns the authoritative server collection.
func (c *Client) FetchEvents(ctx context.Context) (model.Collection, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return model.Collection{}, err
	}
	if !env.Success {
		return model.Collection{}, fmt.Errorf("fetch events: %s", env.Message)
	}
	if len(env.Events) == 0 {
		return model.EmptyCollection(), nil
	}
	return model.Migrate(env.Events)
}

// SaveEvents replaces the whole server collection. Callers performing a
// discrete edit must hold the advisory lock; merge-based reconciliation is
// the only caller that may use this without one.
func (c *Client) SaveEvents(ctx context.Context, events model.Collection) error {
	env, status, err := c.do(ctx, http.MethodPost, "/api/events", map[string]any{
		"events": events,
	})
	if err != nil {
		return err
	}
	if !env.Success {
		if status == http.StatusServiceUnavailable {
			return store.ErrLockUnavailable
		}
		return fmt.Errorf("save events: %s", env.Message)
	}
	return nil
}

// AcquireLock requests the advisory lock. A live lock held elsewhere is
// reported as a store.BusyError carrying the server's age and retry hint.
func (c *Client) AcquireLock(ctx context.Context) (model.Lock, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/api/lock/acquire", nil)
	if err != nil {
		return model.Lock{}, err
	}
	if !env.Success {
		if env.Locked {
			return model.Lock{}, &store.BusyError{
				Age:        time.Duration(env.LockAge) * time.Second,
				RetryAfter: time.Duration(env.RetryAfter) * time.Second,
			}
		}
		return model.Lock{}, fmt.Errorf("acquire lock: %s", env.Message)
	}
	if env.LockData == nil {
		return model.Lock{}, errors.New("acquire lock: missing lock data")
	}
	return *env.LockData, nil
}

// ReleaseLock releases the advisory lock.
func (c *Client) ReleaseLock(ctx context.Context) error {
	env, _, err := c.do(ctx, http.MethodGet, "/api/lock/release", nil)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("release lock: %s", env.Message)
	}
	return nil
}

// LockStatus reports the current advisory lock without acquiring it.
func (c *Client) LockStatus(ctx context.Context) (model.Lock, bool, error) {
	env, _, err := c.do(ctx, http.MethodGet, "/api/lock/status", nil)
	if err != nil {
		return model.Lock{}, false, err
	}
	if !env.Success {
		return model.Lock{}, false, fmt.Errorf("lock status: %s", env.Message)
	}
	if !env.Locked || env.LockData == nil {
		return model.Lock{}, false, nil
	}
	return *env.LockData, true, nil
}

// Title fetches the calendar title.
func (c *Client) Title(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/settings/title", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		CalendarTitle string `json:"calendar_title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.CalendarTitle, nil
}
