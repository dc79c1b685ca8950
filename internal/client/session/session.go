package session

import (
	"context"
	"encoding/json"
	"sync"
)

// Principal is the signed-in user as the auth endpoints describe it.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Role        string `json:"role"`
	TenantID    string `json:"tenantId"`
}

// Session is the client-side state of one signed-in principal. It is
// populated by Init, updated by every refresh and wiped by Teardown.
type Session struct {
	mu            sync.RWMutex
	storage       Storage
	jar           *Jar
	access        string
	legacyRefresh string
	principal     *Principal
	// epoch counts teardowns. Work started under one epoch must not write
	// into the session once it has moved on.
	epoch uint64

	hookMu sync.Mutex
	hooks  map[int]func()
	nextID int
}

// NewSession restores any access token and principal left in storage.
func NewSession(storage Storage, jar *Jar) *Session {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if jar == nil {
		jar = NewJar()
	}
	s := &Session{storage: storage, jar: jar, hooks: make(map[int]func())}
	if tok, ok := storage.Get(keyAccessToken); ok {
		s.access = tok
	}
	if raw, ok := storage.Get(keyPrincipal); ok {
		var p Principal
		if json.Unmarshal([]byte(raw), &p) == nil {
			s.principal = &p
		}
	}
	if rt, ok := storage.Get(keyLegacyRefresh); ok {
		s.legacyRefresh = rt
	}
	return s
}

// Init starts a session. legacyRefresh is empty unless the client keeps the
// refresh token outside the cookie jar.
func (s *Session) Init(access string, p *Principal, legacyRefresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.principal = p
	s.legacyRefresh = legacyRefresh
	s.persistLocked()
}

// Update applies the result of a refresh.
func (s *Session) Update(access string, p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(access, p)
}

func (s *Session) updateLocked(access string, p *Principal) {
	s.access = access
	if p != nil {
		s.principal = p
	}
	s.persistLocked()
}

// Epoch identifies the current session lifetime; every Teardown advances it.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Session) snapshot() (access string, epoch uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.epoch
}

// commit runs fn under the session lock unless the session has been torn
// down since epoch. It reports whether fn ran.
func (s *Session) commit(epoch uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	fn()
	return true
}

func (s *Session) SetLegacyRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacyRefresh = token
	s.persistLocked()
}

func (s *Session) persistLocked() {
	s.storage.Set(keyAccessToken, s.access)
	if s.principal != nil {
		if b, err := json.Marshal(s.principal); err == nil {
			s.storage.Set(keyPrincipal, string(b))
		}
	}
	if s.legacyRefresh != "" {
		s.storage.Set(keyLegacyRefresh, s.legacyRefresh)
	} else {
		s.storage.Delete(keyLegacyRefresh)
	}
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *Session) LegacyRefresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.legacyRefresh
}

func (s *Session) Principal() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return nil
	}
	cp := *s.principal
	return &cp
}

func (s *Session) Active() bool { return s.AccessToken() != "" }

func (s *Session) Jar() *Jar { return s.jar }

// HookCount reports how many teardown hooks are registered.
func (s *Session) HookCount() int {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return len(s.hooks)
}

// OnTeardown registers fn to run on every teardown. The returned func unregisters it.
func (s *Session) OnTeardown(fn func()) (remove func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = fn
	return func() {
		s.hookMu.Lock()
		defer s.hookMu.Unlock()
		delete(s.hooks, id)
	}
}

// Teardown clears tokens, principal, storage and cookies, then runs the hooks.
// It is safe to call on an already torn down session.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	s.runHooks()
}

// teardownAt tears the session down only if it is still in epoch.
func (s *Session) teardownAt(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	s.mu.Unlock()
	s.runHooks()
}

func (s *Session) clearLocked() {
	s.epoch++
	s.access = ""
	s.legacyRefresh = ""
	s.principal = nil
	s.storage.Clear()
	s.jar.Reset()
}

func (s *Session) runHooks() {
	s.hookMu.Lock()
	hooks := make([]func(), 0, len(s.hooks))
	for _, h := range s.hooks {
		hooks = append(hooks, h)
	}
	s.hookMu.Unlock()

	for _, h := range hooks {
		h()
	}
}

type epochKey struct{}

func withEpoch(ctx context.Context, epoch uint64) context.Context {
	return context.WithValue(ctx, epochKey{}, epoch)
}

// epochFrom returns the epoch a refresh was started under, or the current
// one when the caller did not record it.
func epochFrom(ctx context.Context, s *Session) uint64 {
	if e, ok := ctx.Value(epochKey{}).(uint64); ok {
		return e
	}
	return s.Epoch()
}
