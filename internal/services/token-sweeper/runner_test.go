package token_sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/NordCoder/Leadbook/internal/domain/outbox"
	"github.com/NordCoder/Leadbook/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStore struct{ auth.RefreshTokenRepo }

func (brokenStore) SweepExpired(context.Context, time.Time) (int64, error) {
	return 0, auth.ErrStoreUnavailable
}

func seed(t *testing.T, repo auth.RefreshTokenRepo, base time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []auth.RefreshToken{
		{TokenID: "old-1", PrincipalID: "u1", IssuedAt: base.Add(-2 * time.Hour), ExpiresAt: base.Add(-time.Hour)},
		{TokenID: "old-2", PrincipalID: "u2", IssuedAt: base.Add(-2 * time.Hour), ExpiresAt: base.Add(-time.Minute)},
		{TokenID: "live", PrincipalID: "u1", IssuedAt: base, ExpiresAt: base.Add(time.Hour)},
	} {
		rec := rec
		require.NoError(t, repo.Put(ctx, &rec))
	}
}

func TestUsecaseTick_RemovesOnlyExpired(t *testing.T) {
	base := time.Now().UTC()
	repo := memory.NewRefreshTokenRepo(func() time.Time { return base })
	seed(t, repo, base)

	uc := NewUC(Target{Name: "memory", Store: repo})
	uc.Now = func() time.Time { return base }

	removed, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed["memory"])
	assert.Equal(t, 1, repo.Len())

	_, err = repo.GetByTokenID(context.Background(), "live")
	require.NoError(t, err)
}

func TestUsecaseTick_FailingTargetDoesNotStopOthers(t *testing.T) {
	base := time.Now().UTC()
	repo := memory.NewRefreshTokenRepo(func() time.Time { return base })
	seed(t, repo, base)

	uc := NewUC(Target{Name: "redis", Store: brokenStore{}}, Target{Name: "memory", Store: repo})
	uc.Now = func() time.Time { return base }

	removed, err := uc.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
	assert.Equal(t, int64(2), removed["memory"])
	_, ok := removed["redis"]
	assert.False(t, ok)
}

func TestRunner_SweepsOnStartAndStopsOnCancel(t *testing.T) {
	base := time.Now().UTC()
	repo := memory.NewRefreshTokenRepo(func() time.Time { return base })
	seed(t, repo, base)

	reg := prometheus.NewRegistry()
	r := New(zap.NewNop(), NewUC(Target{Name: "memory", Store: repo}), time.Hour, time.Second, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.mRemoved.WithLabelValues("memory")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, repo.Len())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestUsecaseTick_PurgesDeliveredOutbox(t *testing.T) {
	ctx := context.Background()
	ob := memory.NewOutboxRepo()
	require.NoError(t, ob.Enqueue(ctx, "opened:t1", outbox.KindSessionEvent, []byte(`{}`)))
	require.NoError(t, ob.Enqueue(ctx, "opened:t2", outbox.KindSessionEvent, []byte(`{}`)))
	require.NoError(t, ob.MarkSuccess(ctx, []string{"opened:t1"}))

	uc := NewUC(Target{Name: "outbox", Store: DeliveredOutbox{Repo: ob, Retention: time.Hour}})
	uc.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed, err := uc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed["outbox"])
	require.Len(t, ob.Messages(), 1)
	assert.Equal(t, "opened:t2", ob.Messages()[0].IdempotencyKey)
}
