package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI imitates the auth endpoints plus one protected resource.
type fakeAPI struct {
	mu          sync.Mutex
	valid       string
	gen         int
	refreshFail bool
	gate        func()

	refreshCalls atomic.Int32
	rejected     atomic.Int32
	lastRefresh  atomic.Value
}

func (f *fakeAPI) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

// expireAccess makes every token the client holds stale.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = "nobody-has-this"
}

func (f *fakeAPI) issue(w http.ResponseWriter) {
	f.mu.Lock()
	f.gen++
	f.valid = fmt.Sprintf("access-%d", f.gen)
	tok, rt := f.valid, fmt.Sprintf("refresh-%d", f.gen)
	f.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: rt, Path: "/auth", HttpOnly: true})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accessToken": tok,
		"user":        map[string]string{"id": "u-1", "email": "alice@example.com", "role": "ADMIN"},
	})
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":"INVALID_CREDENTIALS","message":"invalid email or password"}`)
			return
		}
		f.issue(w)
	case "/auth/refresh":
		f.refreshCalls.Add(1)
		if ck, err := r.Cookie("refresh_token"); err == nil {
			f.lastRefresh.Store(ck.Value)
		}
		if f.gate != nil {
			f.gate()
		}
		if f.refreshFail {
			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Path: "/auth", MaxAge: -1})
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":"REVOKED","message":"refresh token has been revoked"}`)
			return
		}
		f.issue(w)
	case "/auth/logout":
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Path: "/auth", MaxAge: -1})
		_, _ = io.WriteString(w, `{"ok":true}`)
	default:
		if r.Header.Get("Authorization") != "Bearer "+f.current() {
			f.rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("ok:"), b...))
	}
}

// waitForRejections blocks until n requests have been turned away.
func (f *fakeAPI) waitForRejections(n int32) func() {
	return func() {
		deadline := time.Now().Add(2 * time.Second)
		for f.rejected.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

func newTestClient(t *testing.T, api *fakeAPI, mutate ...func(*Config)) (*Client, *MemoryStorage) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	storage := NewMemoryStorage()
	cfg := Config{BaseURL: srv.URL, Storage: storage, RefreshTimeout: 5 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	return c, storage
}

func get(t *testing.T, c *Client, ctx context.Context, path string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestGuard_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	const n = 8
	api := &fakeAPI{}
	api.gate = api.waitForRejections(n)
	c, _ := newTestClient(t, api)
	api.expireAccess()

	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := get(t, c, context.Background(), "/api/leads")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, api.current(), c.Session().AccessToken())
	assert.Equal(t, "refresh-1", api.lastRefresh.Load(), "the refresh cookie from login was sent")
}

func TestGuard_RefreshFailureRejectsAllAndTearsDown(t *testing.T) {
	const n = 5
	api := &fakeAPI{refreshFail: true}
	api.gate = api.waitForRejections(n)
	c, storage := newTestClient(t, api)

	var teardowns atomic.Int32
	c.Session().OnTeardown(func() { teardowns.Add(1) })
	require.NotEmpty(t, c.Session().Jar().Cookies(c.refreshURL()))
	api.expireAccess()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := get(t, c, context.Background(), "/api/leads")
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSessionExpired)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "REVOKED", apiErr.Code)
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, int32(1), teardowns.Load())
	assert.False(t, c.Session().Active())
	assert.Nil(t, c.Session().Principal())
	assert.Equal(t, 0, storage.Len())
	assert.Empty(t, c.Session().Jar().Cookies(c.refreshURL()))

	resp, err := get(t, c, context.Background(), "/api/leads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "without a session the 401 is handed back as is")
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestGuard_AuthEndpointsNeverRefresh(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
	assert.Zero(t, api.refreshCalls.Load())

	for _, p := range []string{"/auth/login", "/api/v1/auth/refresh", "/auth/logout/", "/auth/register"} {
		assert.True(t, isAuthPath(p), p)
	}
	assert.False(t, isAuthPath("/auth/me"))
	assert.False(t, isAuthPath("/api/leads"))
}

func TestGuard_ReplaysRequestBody(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)
	api.expireAccess()

	req, err := http.NewRequest(http.MethodPost, c.URL("/api/leads"), strings.NewReader(`{"name":"Acme"}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `ok:{"name":"Acme"}`, string(b))
}

func TestGuard_WaiterCancelDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{gate: func() { <-release }}
	c, _ := newTestClient(t, api)
	api.expireAccess()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := get(t, c, ctx, "/api/leads")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return c.Session().AccessToken() == "access-2" }, 2*time.Second, 5*time.Millisecond)

	resp, err := get(t, c, context.Background(), "/api/leads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestGuard_StaleTokenReplaysWithoutRefresh(t *testing.T) {
	s := NewSession(nil, nil)
	s.Init("access-new", &Principal{ID: "u-1"}, "")
	g := NewGuard(nil, s, func(context.Context) (string, error) {
		t.Fatal("refresh must not run")
		return "", nil
	})

	tok, err := g.awaitToken(context.Background(), "access-old")
	require.NoError(t, err)
	assert.Equal(t, "access-new", tok)

	s.Teardown()
	_, err = g.awaitToken(context.Background(), "access-new")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestClient_LogoutTearsDown(t *testing.T) {
	api := &fakeAPI{}
	c, storage := newTestClient(t, api)
	require.NotZero(t, storage.Len())

	var hooked atomic.Bool
	c.Session().OnTeardown(func() { hooked.Store(true) })

	require.NoError(t, c.Logout(context.Background(), true))
	assert.True(t, hooked.Load())
	assert.False(t, c.Session().Active())
	assert.Equal(t, 0, storage.Len())
}

func TestClient_RefreshURLMatchesCookiePath(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	u := c.refreshURL()
	assert.Equal(t, "/auth/refresh", u.Path)
	assert.True(t, u.IsAbs())
	assert.Equal(t, "refresh-1", c.refreshCookie())
}

func TestClient_LegacyRefreshStorage(t *testing.T) {
	api := &fakeAPI{}
	c, storage := newTestClient(t, api, func(cfg *Config) { cfg.LegacyRefresh = true })

	rt, ok := storage.Get(keyLegacyRefresh)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", rt)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	rt, _ = storage.Get(keyLegacyRefresh)
	assert.Equal(t, "refresh-2", rt)
}

func TestGuard_LogoutDuringRefreshRejectsWaiters(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{gate: func() { <-release }}
	c, storage := newTestClient(t, api)
	api.expireAccess()

	errCh := make(chan error, 1)
	go func() {
		resp, err := get(t, c, context.Background(), "/api/leads")
		if err == nil {
			resp.Body.Close()
		}
		errCh <- err
	}()
	require.Eventually(t, func() bool { return api.refreshCalls.Load() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Logout(context.Background(), false))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSessionExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request was not rejected by logout")
	}

	close(release)
	assert.Never(t, func() bool { return c.Session().Active() }, 200*time.Millisecond, 5*time.Millisecond)
	assert.Nil(t, c.Session().Principal())
	assert.Equal(t, 0, storage.Len())
	assert.Empty(t, c.Session().Jar().Cookies(c.refreshURL()))

	// A new login starts clean and refreshes normally.
	_, err := c.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, c.Session().Active())
}

func TestClient_RefreshAfterTeardownIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{gate: func() { <-release }}
	c, storage := newTestClient(t, api, func(cfg *Config) { cfg.LegacyRefresh = true })

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return api.refreshCalls.Load() == 1 }, 2*time.Second, time.Millisecond)

	c.Session().Teardown()
	close(release)

	require.ErrorIs(t, <-errCh, ErrNoSession)
	assert.False(t, c.Session().Active())
	assert.Empty(t, c.Session().LegacyRefresh())
	assert.Equal(t, 0, storage.Len())
	assert.Empty(t, c.Session().Jar().Cookies(c.refreshURL()))
}

func TestSession_TeardownAtIgnoresStaleEpoch(t *testing.T) {
	s := NewSession(nil, nil)
	s.Init("access-1", &Principal{ID: "u-1"}, "")
	stale := s.Epoch()

	s.Teardown()
	assert.Equal(t, stale+1, s.Epoch())
	s.Init("access-2", &Principal{ID: "u-1"}, "")

	s.teardownAt(stale)
	assert.Equal(t, "access-2", s.AccessToken())
	assert.False(t, s.commit(stale, func() { t.Fatal("stale commit ran") }))

	s.teardownAt(s.Epoch())
	assert.False(t, s.Active())
}

func TestSession_RestoresFromStorage(t *testing.T) {
	storage := NewMemoryStorage()
	first := NewSession(storage, nil)
	first.Init("access-1", &Principal{ID: "u-1", Email: "alice@example.com"}, "")

	second := NewSession(storage, nil)
	assert.True(t, second.Active())
	assert.Equal(t, "access-1", second.AccessToken())
	require.NotNil(t, second.Principal())
	assert.Equal(t, "alice@example.com", second.Principal().Email)

	remove := second.OnTeardown(func() { t.Fatal("removed hook ran") })
	remove()
	second.Teardown()
	second.Teardown()
	assert.False(t, second.Active())
	assert.Equal(t, 0, storage.Len())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionExpired))
}

func TestClient_RefreshForEndedSessionSendsNothing(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api, func(cfg *Config) { cfg.LegacyRefresh = true })
	ended := c.Session().Epoch()

	require.NoError(t, c.Logout(context.Background(), false))
	_, err := c.Login(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "refresh-2", c.refreshCookie())

	// A refresh that started before the logout reaches the send step only now.
	_, err = c.Refresh(withEpoch(context.Background(), ended))
	require.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, api.refreshCalls.Load(), "the new session's cookie was not sent")
	assert.Equal(t, "refresh-2", c.refreshCookie())
	assert.Equal(t, "refresh-2", c.Session().LegacyRefresh())
	assert.Equal(t, "access-2", c.Session().AccessToken())
}
