package auth

import (
	"errors"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// Codec signs and verifies access and refresh tokens. It holds no mutable state.
type Codec struct {
	cfg Config
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Codec{cfg: cfg}, nil
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tid"`
	Type     string `json:"typ"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// IssuedRefresh is a freshly minted refresh token together with the values
// that go into its store record.
type IssuedRefresh struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (r IssuedRefresh) Record(principalID string) *domainauth.RefreshToken {
	return &domainauth.RefreshToken{
		TokenID:     r.TokenID,
		PrincipalID: principalID,
		IssuedAt:    r.IssuedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (c *Codec) AccessTTL() time.Duration  { return c.cfg.AccessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

func (c *Codec) IssueAccessToken(u *user.User) (string, error) {
	now := c.now()
	cl := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.AccessTTL)),
		},
		Email:    u.Email,
		Role:     string(user.NormalizeRole(string(u.Role))),
		TenantID: u.TenantID,
		Type:     typeAccess,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access: %w", err)
	}
	return s, nil
}

func (c *Codec) IssueRefreshToken(principalID string) (IssuedRefresh, error) {
	now := c.now()
	exp := now.Add(c.cfg.RefreshTTL)
	id := uuid.NewString()
	cl := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   principalID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: typeRefresh,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.cfg.RefreshSecret)
	if err != nil {
		return IssuedRefresh{}, fmt.Errorf("sign refresh: %w", err)
	}
	return IssuedRefresh{Token: s, TokenID: id, IssuedAt: now, ExpiresAt: exp}, nil
}

func (c *Codec) VerifyAccess(token string) (*domainauth.AccessClaims, error) {
	var cl accessClaims
	if err := c.parse(token, &cl, c.cfg.AccessSecret, true); err != nil {
		return nil, err
	}
	if cl.Type != typeAccess || cl.Subject == "" {
		return nil, ErrMalformed
	}
	return &domainauth.AccessClaims{
		PrincipalID: cl.Subject,
		Email:       cl.Email,
		Role:        user.NormalizeRole(cl.Role),
		TenantID:    cl.TenantID,
		IssuedAt:    numericTime(cl.IssuedAt),
		ExpiresAt:   numericTime(cl.ExpiresAt),
	}, nil
}

func (c *Codec) VerifyRefresh(token string) (*domainauth.RefreshClaims, error) {
	return c.refresh(token, true)
}

// InspectRefresh checks signature and structure of a refresh token but accepts
// an expired one. Logout uses it to find the record of a dead session.
func (c *Codec) InspectRefresh(token string) (*domainauth.RefreshClaims, error) {
	return c.refresh(token, false)
}

func (c *Codec) refresh(token string, validate bool) (*domainauth.RefreshClaims, error) {
	var cl refreshClaims
	if err := c.parse(token, &cl, c.cfg.RefreshSecret, validate); err != nil {
		return nil, err
	}
	if cl.Type != typeRefresh || cl.ID == "" || cl.Subject == "" {
		return nil, ErrMalformed
	}
	return &domainauth.RefreshClaims{
		PrincipalID: cl.Subject,
		TokenID:     cl.ID,
		IssuedAt:    numericTime(cl.IssuedAt),
		ExpiresAt:   numericTime(cl.ExpiresAt),
	}, nil
}

func (c *Codec) parse(token string, claims jwt.Claims, secret []byte, validate bool) error {
	if token == "" {
		return ErrMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.cfg.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return secret, nil }, opts...)
	return classify(err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func (c *Codec) now() time.Time { return c.cfg.Now().Truncate(time.Second) }

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}
