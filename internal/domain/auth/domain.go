package auth

import (
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/user"
)

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	PrincipalID string
	Email       string
	Role        user.Role
	TenantID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	PrincipalID string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// RefreshToken is the server-side record of one issued refresh token.
type RefreshToken struct {
	TokenID     string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (t *RefreshToken) Expired(now time.Time) bool { return !t.ExpiresAt.After(now) }
