package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshFunc obtains a new access token without going through the Guard.
type RefreshFunc func(ctx context.Context) (string, error)

var authPaths = []string{"/auth/login", "/auth/register", "/auth/refresh", "/auth/logout"}

func isAuthPath(p string) bool {
	p = strings.TrimRight(p, "/")
	for _, a := range authPaths {
		if strings.HasSuffix(p, a) {
			return true
		}
	}
	return false
}

type refreshResult struct {
	token string
	err   error
}

// Guard attaches the session's access token to outgoing requests and, when
// one comes back 401, refreshes the session once for everybody: requests that
// fail while a refresh is in flight queue up and are replayed with the new
// token in arrival order.
type Guard struct {
	next    http.RoundTripper
	session *Session
	refresh RefreshFunc
	timeout time.Duration
	log     *zap.Logger

	mu         sync.Mutex
	refreshing bool
	round      uint64
	waiters    []chan refreshResult
}

type GuardOption func(*Guard)

func WithRefreshTimeout(d time.Duration) GuardOption { return func(g *Guard) { g.timeout = d } }

func WithGuardLogger(l *zap.Logger) GuardOption { return func(g *Guard) { g.log = l } }

func NewGuard(next http.RoundTripper, s *Session, refresh RefreshFunc, opts ...GuardOption) *Guard {
	if next == nil {
		next = http.DefaultTransport
	}
	g := &Guard{next: next, session: s, refresh: refresh, timeout: 30 * time.Second, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	s.OnTeardown(g.abandon)
	return g
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAuthPath(req.URL.Path) {
		return g.next.RoundTrip(req)
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	sent := g.session.AccessToken()
	resp, err := g.next.RoundTrip(withToken(req, sent, body))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || sent == "" {
		return resp, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	token, err := g.awaitToken(req.Context(), sent)
	if err != nil {
		return nil, err
	}
	// The replay goes straight to the transport, so a second 401 is final.
	return g.next.RoundTrip(withToken(req, token, body))
}

// awaitToken returns a token newer than sent, starting a refresh unless one
// is already running.
func (g *Guard) awaitToken(ctx context.Context, sent string) (string, error) {
	g.mu.Lock()
	cur, epoch := g.session.snapshot()
	if cur == "" {
		g.mu.Unlock()
		return "", ErrSessionExpired
	}
	if cur != sent {
		g.mu.Unlock()
		return cur, nil
	}
	ch := make(chan refreshResult, 1)
	g.waiters = append(g.waiters, ch)
	if !g.refreshing {
		g.refreshing = true
		g.round++
		go g.runRefresh(withEpoch(context.WithoutCancel(ctx), epoch), g.round, epoch)
	}
	g.mu.Unlock()

	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *Guard) runRefresh(ctx context.Context, round, epoch uint64) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.refresh(ctx)
	if err == nil && token == "" {
		err = ErrNoSession
	}
	if err == nil && !g.session.commit(epoch, func() { g.session.updateLocked(token, nil) }) {
		err = ErrNoSession
	}

	g.mu.Lock()
	if g.round != round {
		// The session ended while this refresh ran; abandon already
		// rejected its waiters.
		g.mu.Unlock()
		g.log.Debug("dropping refresh result of an ended session")
		return
	}
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.mu.Unlock()

	if err != nil {
		g.log.Warn("session refresh failed", zap.Error(err))
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		g.session.teardownAt(epoch)
	}
	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}

// abandon runs on session teardown: queued requests are rejected and any
// refresh still in flight can no longer deliver to anyone.
func (g *Guard) abandon() {
	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.round++
	g.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{err: ErrSessionExpired}
	}
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return b, nil
}

func withToken(req *http.Request, token string, body []byte) *http.Request {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		r.ContentLength = int64(len(body))
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}
