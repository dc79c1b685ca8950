// Package memory holds process-local stores for tests and single-node dev runs.
// Everything is lost on restart, which logs every session out.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct {
	mu     sync.RWMutex
	byID   map[string]auth.RefreshToken
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

func NewRefreshTokenRepo(now func() time.Time) *RefreshTokenRepo {
	if now == nil {
		now = time.Now
	}
	return &RefreshTokenRepo{
		byID:   make(map[string]auth.RefreshToken),
		byUser: make(map[string]map[string]struct{}),
		now:    now,
	}
}

func (r *RefreshTokenRepo) Put(_ context.Context, t *auth.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[t.TokenID]; ok && old.PrincipalID != t.PrincipalID {
		r.unindex(old.PrincipalID, old.TokenID)
	}
	r.byID[t.TokenID] = *t
	bucket, ok := r.byUser[t.PrincipalID]
	if !ok {
		bucket = make(map[string]struct{})
		r.byUser[t.PrincipalID] = bucket
	}
	bucket[t.TokenID] = struct{}{}
	return nil
}

func (r *RefreshTokenRepo) GetByTokenID(_ context.Context, tokenID string) (*auth.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[tokenID]
	if !ok || t.Expired(r.now()) {
		return nil, auth.ErrRecordNotFound
	}
	return &t, nil
}

func (r *RefreshTokenRepo) ListForPrincipal(_ context.Context, principalID string) ([]auth.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var out []auth.RefreshToken
	for id := range r.byUser[principalID] {
		if t := r.byID[id]; !t.Expired(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (r *RefreshTokenRepo) DeleteByTokenID(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[tokenID]; ok {
		delete(r.byID, tokenID)
		r.unindex(t.PrincipalID, tokenID)
	}
	return nil
}

func (r *RefreshTokenRepo) DeleteAllForPrincipal(_ context.Context, principalID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id := range r.byUser[principalID] {
		delete(r.byID, id)
		n++
	}
	delete(r.byUser, principalID)
	return n, nil
}

func (r *RefreshTokenRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.byID {
		if t.Expired(now) {
			delete(r.byID, id)
			r.unindex(t.PrincipalID, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records, expired ones included.
func (r *RefreshTokenRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *RefreshTokenRepo) unindex(principalID, tokenID string) {
	if bucket, ok := r.byUser[principalID]; ok {
		delete(bucket, tokenID)
		if len(bucket) == 0 {
			delete(r.byUser, principalID)
		}
	}
}
