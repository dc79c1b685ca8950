package token_sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/NordCoder/Leadbook/internal/domain/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper removes whatever has expired as of now and reports how much.
// Every auth.RefreshTokenRepo is one.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

var _ Sweeper = (auth.RefreshTokenRepo)(nil)

// Target is one backend to sweep.
type Target struct {
	Name  string
	Store Sweeper
}

// DeliveredOutbox sweeps session events the relay has already shipped once
// they are older than Retention.
type DeliveredOutbox struct {
	Repo      outbox.Repository
	Retention time.Duration
}

func (d DeliveredOutbox) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return d.Repo.PurgeDelivered(ctx, now.Add(-d.Retention))
}

type Usecase struct {
	Targets []Target
	Now     func() time.Time
}

func NewUC(targets ...Target) *Usecase {
	return &Usecase{Targets: targets, Now: time.Now}
}

// Tick sweeps every target once. A failing target does not stop the others;
// the returned error joins every failure.
func (u *Usecase) Tick(ctx context.Context) (map[string]int64, error) {
	tr := otel.Tracer("token-sweeper.uc")
	ctxTick, span := tr.Start(ctx, "sweeper.tick",
		trace.WithAttributes(attribute.Int("targets", len(u.Targets))),
	)
	defer span.End()

	now := u.Now().UTC()
	removed := make(map[string]int64, len(u.Targets))
	var errs []error
	for _, t := range u.Targets {
		_, sp := tr.Start(ctxTick, "sweeper.sweep", trace.WithAttributes(attribute.String("store", t.Name)))
		n, err := t.Store.SweepExpired(ctxTick, now)
		if err != nil {
			sp.RecordError(err)
			sp.End()
			errs = append(errs, fmt.Errorf("sweep %s: %w", t.Name, err))
			continue
		}
		sp.SetAttributes(attribute.Int64("removed", n))
		sp.End()
		removed[t.Name] = n
	}
	return removed, errors.Join(errs...)
}
