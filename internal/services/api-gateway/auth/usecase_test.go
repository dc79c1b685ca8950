package auth

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Leadbook/internal/auth"
	domainauth "github.com/NordCoder/Leadbook/internal/domain/auth"
	domainkafka "github.com/NordCoder/Leadbook/internal/domain/kafka"
	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/NordCoder/Leadbook/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	refreshTTL = 24 * time.Hour
	accessTTL  = 15 * time.Minute
	alicePass  = "correct-horse"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	uc     *Usecase
	users  *memory.UserRepo
	tokens *memory.RefreshTokenRepo
	outbox *memory.OutboxRepo
	clock  *testClock
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}
	codec, err := auth.NewCodec(auth.Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        "leadbook-test",
		Now:           clock.Now,
	})
	require.NoError(t, err)

	e := &env{
		users:  memory.NewUserRepo(),
		tokens: memory.NewRefreshTokenRepo(clock.Now),
		outbox: memory.NewOutboxRepo(),
		clock:  clock,
	}
	opts = append([]Option{WithOutbox(e.outbox), WithClock(clock.Now)}, opts...)
	e.uc = NewUseCase(e.users, e.tokens, codec, opts...)
	return e
}

func (e *env) registerAlice(t *testing.T) *Session {
	t.Helper()
	sess, err := e.uc.Register(context.Background(), RegisterInput{
		Email:     "Alice@Example.com ",
		Password:  alicePass,
		FirstName: "Alice",
		LastName:  "Liddell",
		Role:      "sales_manager",
	})
	require.NoError(t, err)
	return sess
}

func (e *env) events(t *testing.T) []domainkafka.SessionEvent {
	t.Helper()
	var out []domainkafka.SessionEvent
	for _, m := range e.outbox.Messages() {
		var ev domainkafka.SessionEvent
		require.NoError(t, json.Unmarshal(m.Data, &ev))
		out = append(out, ev)
	}
	return out
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)

	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, "alice@example.com", sess.User.Email)
	assert.Equal(t, user.RoleManager, sess.User.Role)
	assert.NotEmpty(t, sess.User.TenantID, "a tenant is allocated when none is given")
	assert.Equal(t, e.clock.Now().Add(refreshTTL), sess.RefreshExpiresAt)

	claims, err := e.uc.ParseAccess(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.PrincipalID)
	assert.Equal(t, sess.User.TenantID, claims.TenantID)

	records, err := e.tokens.ListForPrincipal(context.Background(), sess.User.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	evs := e.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domainkafka.SessionOpened, evs[0].Type)
	assert.Equal(t, sess.User.ID, evs[0].PrincipalID)
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.uc.Register(ctx, RegisterInput{Email: "no-at-sign", Password: alicePass})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.uc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "short"})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = e.uc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: alicePass, TenantID: "acme"})
	require.NoError(t, err)

	_, err = e.uc.Register(ctx, RegisterInput{Email: "BOB@example.com", Password: alicePass})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegister_SoftDeletedEmailStaysTaken(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	require.NoError(t, e.users.SoftDelete(context.Background(), sess.User.ID))

	_, err := e.uc.Register(context.Background(), RegisterInput{Email: "alice@example.com", Password: alicePass})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestLogin_UniformFailure(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()

	_, errUnknown := e.uc.Login(ctx, "nobody@example.com", alicePass)
	_, errWrong := e.uc.Login(ctx, "alice@example.com", "wrong-password")

	require.NoError(t, e.users.SoftDelete(ctx, sess.User.ID))
	_, errDeleted := e.uc.Login(ctx, "alice@example.com", alicePass)

	for _, err := range []error{errUnknown, errWrong, errDeleted} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestLogin_ReplacesExistingSessions(t *testing.T) {
	e := newEnv(t)
	first := e.registerAlice(t)
	ctx := context.Background()

	second, err := e.uc.Login(ctx, "ALICE@example.com", alicePass)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	records, err := e.tokens.ListForPrincipal(ctx, first.User.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = e.uc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestRefresh_RotatesAndBlocksReuse(t *testing.T) {
	e := newEnv(t)
	s1 := e.registerAlice(t)
	ctx := context.Background()

	s2, err := e.uc.Refresh(ctx, s1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s1.AccessToken, s2.AccessToken)
	assert.NotEqual(t, s1.RefreshToken, s2.RefreshToken)
	assert.Equal(t, s1.User.ID, s2.User.ID)
	assert.Equal(t, 1, e.tokens.Len())

	_, err = e.uc.Refresh(ctx, s1.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)

	s3, err := e.uc.Refresh(ctx, s2.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s2.RefreshToken, s3.RefreshToken)

	var types []domainkafka.SessionEventType
	for _, ev := range e.events(t) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domainkafka.SessionEventType{
		domainkafka.SessionOpened,
		domainkafka.SessionRotated,
		domainkafka.RefreshReuseBlocked,
		domainkafka.SessionRotated,
	}, types)
}

func TestRefresh_Rejections(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()

	_, err := e.uc.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidOrExpired)

	_, err = e.uc.Refresh(ctx, "not.a.token")
	require.ErrorIs(t, err, ErrInvalidOrExpired)

	_, err = e.uc.Refresh(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrInvalidOrExpired, "an access token is not a refresh token")

	e.clock.Advance(refreshTTL + time.Second)
	_, err = e.uc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestRefresh_PrincipalGone(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()
	require.NoError(t, e.users.SoftDelete(ctx, sess.User.ID))

	_, err := e.uc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrPrincipalGone)
	assert.Equal(t, 0, e.tokens.Len(), "the orphaned record is dropped")
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()

	require.NoError(t, e.uc.Logout(ctx, "", false))
	require.NoError(t, e.uc.Logout(ctx, "garbage", false))

	require.NoError(t, e.uc.Logout(ctx, sess.RefreshToken, false))
	assert.Equal(t, 0, e.tokens.Len())
	require.NoError(t, e.uc.Logout(ctx, sess.RefreshToken, false), "second logout is a no-op")

	_, err := e.uc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestLogout_ExpiredTokenStillDeletesRecord(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	e.clock.Advance(refreshTTL + time.Hour)

	require.NoError(t, e.uc.Logout(context.Background(), sess.RefreshToken, false))
	assert.Equal(t, 0, e.tokens.Len())
}

func TestLogout_AllSessions(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()

	extra, err := e.uc.codec.IssueRefreshToken(sess.User.ID)
	require.NoError(t, err)
	require.NoError(t, e.tokens.Put(ctx, extra.Record(sess.User.ID)))
	require.Equal(t, 2, e.tokens.Len())

	require.NoError(t, e.uc.Logout(ctx, sess.RefreshToken, true))
	assert.Equal(t, 0, e.tokens.Len())
}

func TestParseAccess(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)

	_, err := e.uc.ParseAccess("garbage")
	require.ErrorIs(t, err, ErrMalformed)

	_, err = e.uc.ParseAccess(sess.RefreshToken)
	require.ErrorIs(t, err, ErrMalformed)

	e.clock.Advance(accessTTL + time.Second)
	_, err = e.uc.ParseAccess(sess.AccessToken)
	require.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	sess := e.registerAlice(t)
	ctx := context.Background()

	u, err := e.uc.Me(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.FirstName)

	_, err = e.uc.Me(ctx, "missing")
	require.ErrorIs(t, err, ErrPrincipalGone)
}

type downStore struct {
	domainauth.RefreshTokenRepo
}

func (downStore) Put(context.Context, *domainauth.RefreshToken) error {
	return domainauth.ErrStoreUnavailable
}

func (downStore) DeleteAllForPrincipal(context.Context, string) (int64, error) {
	return 0, domainauth.ErrStoreUnavailable
}

type recordingTx struct {
	calls int
}

func (r *recordingTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

func TestStoreUnavailable(t *testing.T) {
	e := newEnv(t)
	e.registerAlice(t)

	tx := &recordingTx{}
	broken := NewUseCase(e.users, downStore{e.tokens}, e.uc.codec, WithTransactor(tx))
	_, err := broken.Login(context.Background(), "alice@example.com", alicePass)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, domainauth.ErrStoreUnavailable)
	assert.Equal(t, 1, tx.calls)
}
