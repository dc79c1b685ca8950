package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Leadbook/internal/auth"
	domainauth "github.com/NordCoder/Leadbook/internal/domain/auth"
	domainkafka "github.com/NordCoder/Leadbook/internal/domain/kafka"
	"github.com/NordCoder/Leadbook/internal/domain/outbox"
	"github.com/NordCoder/Leadbook/internal/domain/user"
	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyExists      = errors.New("an account with this email already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidOrExpired   = errors.New("refresh token is invalid or expired")
	ErrRevoked            = errors.New("refresh token has been revoked")
	ErrPrincipalGone      = errors.New("account no longer exists")
	ErrMalformed          = errors.New("access token is malformed")
	ErrUnavailable        = errors.New("database unavailable")
)

const minPasswordLen = 8

var authOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auth_outcomes_total",
	Help: "Auth operations by result.",
}, []string{"op", "result"})

// Transactor runs fn so that every store write inside it commits or rolls back together.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Option func(*Usecase)

func WithTransactor(tx Transactor) Option { return func(u *Usecase) { u.tx = tx } }

// WithOutbox makes every session change record a session event.
func WithOutbox(repo outbox.Repository) Option { return func(u *Usecase) { u.outbox = repo } }

func WithClock(now func() time.Time) Option { return func(u *Usecase) { u.now = now } }

func WithLogger(l *zap.Logger) Option { return func(u *Usecase) { u.log = l } }

type Usecase struct {
	users  user.Repo
	rt     domainauth.RefreshTokenRepo
	codec  *auth.Codec
	tx     Transactor
	outbox outbox.Repository
	now    func() time.Time
	log    *zap.Logger
}

func NewUseCase(users user.Repo, rt domainauth.RefreshTokenRepo, codec *auth.Codec, opts ...Option) *Usecase {
	u := &Usecase{
		users: users,
		rt:    rt,
		codec: codec,
		tx:    noTx{},
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *user.User
}

type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Role        string
	PhoneNumber string
	TenantID    string
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (u *Usecase) Register(ctx context.Context, in RegisterInput) (sess *Session, err error) {
	ctx, span := otel.Tracer("auth.uc").Start(ctx, "auth.register")
	defer func() { u.finish(span, "register", err) }()

	email := normalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	tenant := strings.TrimSpace(in.TenantID)
	if tenant == "" {
		tenant = uuid.NewString()
	}
	now := u.now()
	principal := &user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
		Role:         user.NormalizeRole(in.Role),
		TenantID:     tenant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.users.Create(ctx, principal); err != nil {
			if errors.Is(err, user.ErrEmailTaken) {
				return ErrAlreadyExists
			}
			return u.unavailable("create user", err)
		}
		sess, err = u.openSession(ctx, principal, domainkafka.SessionOpened)
		return err
	})
	if err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, u.log).Info("auth.register", zap.String("email", email), zap.String("user_id", principal.ID))
	return sess, nil
}

// Login answers ErrInvalidCredentials for an unknown email, a wrong password
// and a deleted account alike, after the same bcrypt work in each case.
func (u *Usecase) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, span := otel.Tracer("auth.uc").Start(ctx, "auth.login")
	defer func() { u.finish(span, "login", err) }()

	email = normalizeEmail(email)
	principal, err := u.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, user.ErrNotFound):
		_ = auth.ComparePassword("", password)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, u.unavailable("get user", err)
	}
	if err := auth.ComparePassword(principal.PasswordHash, password); err != nil || !principal.Active() {
		return nil, ErrInvalidCredentials
	}

	err = u.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := u.rt.DeleteAllForPrincipal(ctx, principal.ID); err != nil {
			return u.unavailable("revoke sessions", err)
		}
		sess, err = u.openSession(ctx, principal, domainkafka.SessionOpened)
		return err
	})
	if err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, u.log).Info("auth.login", zap.String("email", email), zap.String("user_id", principal.ID))
	return sess, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use: its record is deleted in the same transaction that stores the new one.
func (u *Usecase) Refresh(ctx context.Context, raw string) (sess *Session, err error) {
	ctx, span := otel.Tracer("auth.uc").Start(ctx, "auth.refresh")
	defer func() { u.finish(span, "refresh", err) }()

	if raw == "" {
		return nil, ErrInvalidOrExpired
	}
	claims, err := u.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, ErrInvalidOrExpired
	}

	rec, err := u.rt.GetByTokenID(ctx, claims.TokenID)
	switch {
	case errors.Is(err, domainauth.ErrRecordNotFound):
		u.recordReuse(ctx, claims)
		return nil, ErrRevoked
	case err != nil:
		return nil, u.unavailable("get refresh token", err)
	}

	principal, err := u.users.GetByID(ctx, rec.PrincipalID)
	switch {
	case errors.Is(err, user.ErrNotFound) || (err == nil && !principal.Active()):
		if delErr := u.rt.DeleteByTokenID(ctx, rec.TokenID); delErr != nil {
			obs.WithTrace(ctx, u.log).Warn("drop orphaned refresh token", zap.Error(delErr))
		}
		return nil, ErrPrincipalGone
	case err != nil:
		return nil, u.unavailable("get user", err)
	}

	err = u.tx.WithTx(ctx, func(ctx context.Context) error {
		sess, err = u.openSession(ctx, principal, domainkafka.SessionRotated)
		if err != nil {
			return err
		}
		if err := u.rt.DeleteByTokenID(ctx, rec.TokenID); err != nil {
			return u.unavailable("delete rotated token", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout deletes the record behind raw, and with all every record of its
// principal. Unknown, expired and garbage tokens are not an error.
func (u *Usecase) Logout(ctx context.Context, raw string, all bool) (err error) {
	ctx, span := otel.Tracer("auth.uc").Start(ctx, "auth.logout")
	defer func() { u.finish(span, "logout", err) }()

	if raw == "" {
		return nil
	}
	claims, err := u.codec.InspectRefresh(raw)
	if err != nil {
		return nil
	}
	return u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.rt.DeleteByTokenID(ctx, claims.TokenID); err != nil {
			return u.unavailable("delete refresh token", err)
		}
		if all {
			if _, err := u.rt.DeleteAllForPrincipal(ctx, claims.PrincipalID); err != nil {
				return u.unavailable("revoke sessions", err)
			}
		}
		return u.emit(ctx, domainkafka.SessionEvent{
			Type:        domainkafka.SessionClosed,
			PrincipalID: claims.PrincipalID,
			TokenID:     claims.TokenID,
			At:          u.now(),
		})
	})
}

// Me returns the principal behind verified access claims.
func (u *Usecase) Me(ctx context.Context, principalID string) (*user.User, error) {
	principal, err := u.users.GetByID(ctx, principalID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return nil, ErrPrincipalGone
	case err != nil:
		return nil, u.unavailable("get user", err)
	case !principal.Active():
		return nil, ErrPrincipalGone
	}
	return principal, nil
}

func (u *Usecase) ParseAccess(token string) (*domainauth.AccessClaims, error) {
	cl, err := u.codec.VerifyAccess(token)
	switch {
	case errors.Is(err, auth.ErrExpired):
		return nil, ErrInvalidOrExpired
	case err != nil:
		return nil, ErrMalformed
	}
	return cl, nil
}

// RefreshTTL is how long the refresh cookie should live.
func (u *Usecase) RefreshTTL() time.Duration { return u.codec.RefreshTTL() }

func (u *Usecase) openSession(ctx context.Context, principal *user.User, evType domainkafka.SessionEventType) (*Session, error) {
	access, err := u.codec.IssueAccessToken(principal)
	if err != nil {
		return nil, err
	}
	refresh, err := u.codec.IssueRefreshToken(principal.ID)
	if err != nil {
		return nil, err
	}
	if err := u.rt.Put(ctx, refresh.Record(principal.ID)); err != nil {
		return nil, u.unavailable("save refresh token", err)
	}
	if err := u.emit(ctx, domainkafka.SessionEvent{
		Type:        evType,
		PrincipalID: principal.ID,
		TenantID:    principal.TenantID,
		TokenID:     refresh.TokenID,
		At:          refresh.IssuedAt,
	}); err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             principal,
	}, nil
}

func (u *Usecase) emit(ctx context.Context, ev domainkafka.SessionEvent) error {
	if u.outbox == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	key := string(ev.Type) + ":" + ev.TokenID
	if err := u.outbox.Enqueue(ctx, key, outbox.KindSessionEvent, data); err != nil {
		return u.unavailable("enqueue session event", err)
	}
	return nil
}

// recordReuse is best effort: the caller is rejected either way.
func (u *Usecase) recordReuse(ctx context.Context, claims *domainauth.RefreshClaims) {
	obs.WithTrace(ctx, u.log).Warn("refresh token reuse", zap.String("user_id", claims.PrincipalID), zap.String("token_id", claims.TokenID))
	err := u.emit(ctx, domainkafka.SessionEvent{
		Type:        domainkafka.RefreshReuseBlocked,
		PrincipalID: claims.PrincipalID,
		TokenID:     claims.TokenID,
		At:          u.now(),
	})
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("record refresh reuse", zap.Error(err))
	}
}

func (u *Usecase) unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (u *Usecase) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = outcome(err)
		span.RecordError(err)
		if result == "unavailable" {
			span.SetStatus(codes.Error, op)
		}
	}
	authOutcomes.WithLabelValues(op, result).Inc()
	span.End()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidOrExpired):
		return "invalid_or_expired"
	case errors.Is(err, ErrPrincipalGone):
		return "principal_gone"
	default:
		return "rejected"
	}
}
