package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound   = errors.New("refresh token record not found")
	ErrStoreUnavailable = errors.New("refresh token store unavailable")
)

// RefreshTokenRepo keeps one record per issued refresh token.
// GetByTokenID returns ErrRecordNotFound for unknown and for already expired records.
// Deleting an unknown id is not an error.
type RefreshTokenRepo interface {
	Put(ctx context.Context, t *RefreshToken) error
	GetByTokenID(ctx context.Context, tokenID string) (*RefreshToken, error)
	ListForPrincipal(ctx context.Context, principalID string) ([]RefreshToken, error)
	DeleteByTokenID(ctx context.Context, tokenID string) error
	DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
