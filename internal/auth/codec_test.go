package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newTestCodec(t *testing.T, clk *fixedClock) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "leadbook-test",
		Now:           clk.Now,
	})
	require.NoError(t, err)
	return c
}

func testUser() *user.User {
	return &user.User{ID: "u-1", Email: "alice@x.com", Role: "super_admin", TenantID: "t-1"}
}

func TestNewCodec_RejectsEmptyConfig(t *testing.T) {
	_, err := NewCodec(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	require.Error(t, err)

	_, err = NewCodec(Config{AccessSecret: []byte("a"), RefreshSecret: []byte("b")})
	require.Error(t, err)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	c := newTestCodec(t, clk)

	tok, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)

	cl, err := c.VerifyAccess(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", cl.PrincipalID)
	assert.Equal(t, "alice@x.com", cl.Email)
	assert.Equal(t, user.RoleAdmin, cl.Role)
	assert.Equal(t, "t-1", cl.TenantID)
	assert.True(t, cl.ExpiresAt.After(cl.IssuedAt))
	assert.Equal(t, 15*time.Minute, cl.ExpiresAt.Sub(cl.IssuedAt))
}

func TestAccessToken_UniquePerIssue(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	a1, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)
	a2, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	issued, err := c.IssueRefreshToken("u-1")
	require.NoError(t, err)
	require.NotEmpty(t, issued.TokenID)

	cl, err := c.VerifyRefresh(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.TokenID, cl.TokenID)
	assert.Equal(t, "u-1", cl.PrincipalID)
	assert.True(t, cl.ExpiresAt.Equal(issued.ExpiresAt))

	rec := issued.Record("u-1")
	assert.Equal(t, issued.TokenID, rec.TokenID)
	assert.Equal(t, "u-1", rec.PrincipalID)
}

func TestVerify_Expired(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	access, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)
	refresh, err := c.IssueRefreshToken("u-1")
	require.NoError(t, err)

	clk.t = clk.t.Add(48 * time.Hour)

	_, err = c.VerifyAccess(access)
	require.ErrorIs(t, err, ErrExpired)
	_, err = c.VerifyRefresh(refresh.Token)
	require.ErrorIs(t, err, ErrExpired)

	cl, err := c.InspectRefresh(refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, refresh.TokenID, cl.TokenID)
}

func TestVerify_ExpiredWithValidSignatureStillFails(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	cl := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "leadbook-test",
			IssuedAt:  jwt.NewNumericDate(clk.t.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(-time.Hour)),
		},
		Type: typeAccess,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = c.VerifyAccess(tok)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)
	other, err := NewCodec(Config{
		AccessSecret:  []byte("other"),
		RefreshSecret: []byte("other"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "leadbook-test",
		Now:           clk.Now,
	})
	require.NoError(t, err)

	tok, err := other.IssueAccessToken(testUser())
	require.NoError(t, err)

	_, err = c.VerifyAccess(tok)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedPayload(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	tok, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	other, err := c.IssueAccessToken(&user.User{ID: "u-2", Role: user.RoleRep})
	require.NoError(t, err)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, err = c.VerifyAccess(forged)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	for _, tok := range []string{"", "not.a.jwt", "abc", "a.b"} {
		_, err := c.VerifyAccess(tok)
		require.ErrorIs(t, err, ErrMalformed, tok)
	}
}

func TestVerify_TokenTypesAreNotInterchangeable(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c, err := NewCodec(Config{
		AccessSecret:  []byte("same"),
		RefreshSecret: []byte("same"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Now:           clk.Now,
	})
	require.NoError(t, err)

	refresh, err := c.IssueRefreshToken("u-1")
	require.NoError(t, err)
	_, err = c.VerifyAccess(refresh.Token)
	require.ErrorIs(t, err, ErrMalformed)

	access, err := c.IssueAccessToken(testUser())
	require.NoError(t, err)
	_, err = c.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	clk := &fixedClock{t: time.Now().UTC()}
	c := newTestCodec(t, clk)

	cl := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "leadbook-test",
			IssuedAt:  jwt.NewNumericDate(clk.t),
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
		Type: typeAccess,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, cl).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.VerifyAccess(tok)
	require.Error(t, err)
}

func TestPassword_HashAndCompare(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NoError(t, ComparePassword(h, "correct horse"))
	require.ErrorIs(t, ComparePassword(h, "wrong"), ErrPasswordMismatch)
	require.ErrorIs(t, ComparePassword("", "anything"), ErrPasswordMismatch)
}
