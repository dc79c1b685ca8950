package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "leadbook:auth"

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

// RefreshTokenRepo keeps each record in a hash that expires with the token,
// a per-principal sorted set of token ids and a global expiry index used by
// SweepExpired to clean up the per-principal sets.
type RefreshTokenRepo struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type Option func(*RefreshTokenRepo)

func WithPrefix(p string) Option {
	return func(r *RefreshTokenRepo) {
		if p != "" {
			r.prefix = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *RefreshTokenRepo) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRefreshTokenRepo(client redis.UniversalClient, opts ...Option) *RefreshTokenRepo {
	r := &RefreshTokenRepo{client: client, prefix: defaultPrefix, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RefreshTokenRepo) tokenKey(id string) string { return r.prefix + ":rt:" + id }
func (r *RefreshTokenRepo) userKey(uid string) string { return r.prefix + ":user:" + uid }
func (r *RefreshTokenRepo) expiryKey() string { return r.prefix + ":expiry" }
func expiryMember(uid, id string) string { return uid + "|" + id }

func (r *RefreshTokenRepo) Put(ctx context.Context, t *auth.RefreshToken) error {
	if t.TokenID == "" {
		return errors.New("token id required")
	}
	score := float64(t.ExpiresAt.Unix())
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := r.tokenKey(t.TokenID)
		p.HSet(ctx, key, map[string]any{
			"user": t.PrincipalID,
			"iat":  t.IssuedAt.UnixNano(),
			"exp":  t.ExpiresAt.UnixNano(),
		})
		p.ExpireAt(ctx, key, t.ExpiresAt)
		p.ZAdd(ctx, r.userKey(t.PrincipalID), redis.Z{Score: score, Member: t.TokenID})
		p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: score, Member: expiryMember(t.PrincipalID, t.TokenID)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put refresh: %v", auth.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RefreshTokenRepo) GetByTokenID(ctx context.Context, tokenID string) (*auth.RefreshToken, error) {
	vals, err := r.client.HGetAll(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get refresh: %v", auth.ErrStoreUnavailable, err)
	}
	t, ok := decode(tokenID, vals)
	if !ok || t.Expired(r.now()) {
		return nil, auth.ErrRecordNotFound
	}
	return t, nil
}

func (r *RefreshTokenRepo) ListForPrincipal(ctx context.Context, principalID string) ([]auth.RefreshToken, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.userKey(principalID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(r.now().Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list refresh: %v", auth.ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.tokenKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list refresh: %v", auth.ErrStoreUnavailable, err)
	}

	now := r.now()
	out := make([]auth.RefreshToken, 0, len(ids))
	for i, cmd := range cmds {
		t, ok := decode(ids[i], cmd.Val())
		if !ok || t.Expired(now) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *RefreshTokenRepo) DeleteByTokenID(ctx context.Context, tokenID string) error {
	uid, err := r.client.HGet(ctx, r.tokenKey(tokenID), "user").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: delete refresh: %v", auth.ErrStoreUnavailable, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.tokenKey(tokenID))
		if uid != "" {
			p.ZRem(ctx, r.userKey(uid), tokenID)
			p.ZRem(ctx, r.expiryKey(), expiryMember(uid, tokenID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete refresh: %v", auth.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RefreshTokenRepo) DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	ids, err := r.client.ZRange(ctx, r.userKey(principalID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: delete user refresh: %v", auth.ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, len(ids))
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			dels[i] = p.Del(ctx, r.tokenKey(id))
			p.ZRem(ctx, r.expiryKey(), expiryMember(principalID, id))
		}
		p.Del(ctx, r.userKey(principalID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete user refresh: %v", auth.ErrStoreUnavailable, err)
	}

	var n int64
	for _, d := range dels {
		n += d.Val()
	}
	return n, nil
}

// SweepExpired removes index entries of tokens expired at or before now.
// The token hashes themselves are already gone by TTL; deleting them again is harmless.
func (r *RefreshTokenRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	members, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: sweep refresh: %v", auth.ErrStoreUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range members {
			uid, id, ok := strings.Cut(m, "|")
			if !ok {
				p.ZRem(ctx, r.expiryKey(), m)
				continue
			}
			p.Del(ctx, r.tokenKey(id))
			p.ZRem(ctx, r.userKey(uid), id)
			p.ZRem(ctx, r.expiryKey(), m)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: sweep refresh: %v", auth.ErrStoreUnavailable, err)
	}
	return int64(len(members)), nil
}

func decode(tokenID string, vals map[string]string) (*auth.RefreshToken, bool) {
	uid := vals["user"]
	if uid == "" {
		return nil, false
	}
	iat, err1 := strconv.ParseInt(vals["iat"], 10, 64)
	exp, err2 := strconv.ParseInt(vals["exp"], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return &auth.RefreshToken{
		TokenID:     tokenID,
		PrincipalID: uid,
		IssuedAt:    time.Unix(0, iat).UTC(),
		ExpiresAt:   time.Unix(0, exp).UTC(),
	}, true
}
