// Package storetest holds behaviour checks shared by every RefreshTokenRepo backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds an empty repository whose notion of "now" is the given clock.
type Factory func(t *testing.T, now func() time.Time) auth.RefreshTokenRepo

func record(principalID string, issued, expires time.Time) *auth.RefreshToken {
	return &auth.RefreshToken{
		TokenID:     uuid.NewString(),
		PrincipalID: principalID,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}
}

func RunRefreshTokenRepo(t *testing.T, newRepo Factory) {
	base := time.Now().UTC().Truncate(time.Second)
	now := func() time.Time { return base }
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		repo := newRepo(t, now)
		rec := record(uuid.NewString(), base, base.Add(time.Hour))
		require.NoError(t, repo.Put(ctx, rec))

		got, err := repo.GetByTokenID(ctx, rec.TokenID)
		require.NoError(t, err)
		assert.Equal(t, rec.TokenID, got.TokenID)
		assert.Equal(t, rec.PrincipalID, got.PrincipalID)
		assert.True(t, rec.IssuedAt.Equal(got.IssuedAt))
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("put is an idempotent upsert", func(t *testing.T) {
		repo := newRepo(t, now)
		uid := uuid.NewString()
		rec := record(uid, base, base.Add(time.Hour))
		require.NoError(t, repo.Put(ctx, rec))
		rec.ExpiresAt = base.Add(2 * time.Hour)
		require.NoError(t, repo.Put(ctx, rec))

		list, err := repo.ListForPrincipal(ctx, uid)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].ExpiresAt.Equal(base.Add(2*time.Hour)))
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		repo := newRepo(t, now)
		_, err := repo.GetByTokenID(ctx, uuid.NewString())
		require.ErrorIs(t, err, auth.ErrRecordNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t, now)
		rec := record(uuid.NewString(), base, base.Add(time.Hour))
		require.NoError(t, repo.Put(ctx, rec))

		require.NoError(t, repo.DeleteByTokenID(ctx, rec.TokenID))
		_, err := repo.GetByTokenID(ctx, rec.TokenID)
		require.ErrorIs(t, err, auth.ErrRecordNotFound)

		require.NoError(t, repo.DeleteByTokenID(ctx, rec.TokenID))
		require.NoError(t, repo.DeleteByTokenID(ctx, uuid.NewString()))
	})

	t.Run("list and delete all for principal", func(t *testing.T) {
		repo := newRepo(t, now)
		alice, bob := uuid.NewString(), uuid.NewString()
		a1 := record(alice, base, base.Add(time.Hour))
		a2 := record(alice, base.Add(time.Second), base.Add(time.Hour))
		b1 := record(bob, base, base.Add(time.Hour))
		for _, r := range []*auth.RefreshToken{a1, a2, b1} {
			require.NoError(t, repo.Put(ctx, r))
		}

		list, err := repo.ListForPrincipal(ctx, alice)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.ElementsMatch(t, []string{a1.TokenID, a2.TokenID}, []string{list[0].TokenID, list[1].TokenID})

		n, err := repo.DeleteAllForPrincipal(ctx, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		list, err = repo.ListForPrincipal(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = repo.GetByTokenID(ctx, b1.TokenID)
		require.NoError(t, err)

		n, err = repo.DeleteAllForPrincipal(ctx, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("expired records are absent and swept", func(t *testing.T) {
		repo := newRepo(t, now)
		uid := uuid.NewString()
		live := record(uid, base, base.Add(time.Hour))
		dead1 := record(uid, base.Add(-2*time.Hour), base.Add(-time.Hour))
		dead2 := record(uuid.NewString(), base.Add(-2*time.Hour), base.Add(-time.Minute))
		for _, r := range []*auth.RefreshToken{live, dead1, dead2} {
			require.NoError(t, repo.Put(ctx, r))
		}

		_, err := repo.GetByTokenID(ctx, dead1.TokenID)
		require.ErrorIs(t, err, auth.ErrRecordNotFound)

		list, err := repo.ListForPrincipal(ctx, uid)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, live.TokenID, list[0].TokenID)

		n, err := repo.SweepExpired(ctx, base)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(2))

		n, err = repo.SweepExpired(ctx, base)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		_, err = repo.GetByTokenID(ctx, live.TokenID)
		require.NoError(t, err)
	})
}
