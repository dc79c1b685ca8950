package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base per attempt, caps at Max and spreads by ±Jitter.
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && time.Duration(d) > b.Max {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

// Policy describes how one named operation is retried. Name becomes the
// metric label, so keep it low cardinality.
type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

var (
	retryCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadbook",
		Name:      "retry_calls_total",
		Help:      "Calls of a retried operation, including the first one.",
	}, []string{"name"})
	retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadbook",
		Name:      "retry_outcomes_total",
		Help:      "Retried operations by final outcome (ok, exhausted, permanent, canceled).",
	}, []string{"name", "outcome"})
	retryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadbook",
		Name:      "retry_duration_seconds",
		Help:      "Wall time spent in Do, backoff included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name"})
)

var defaultBackoff = ExpoJitter{Base: 100 * time.Millisecond, Max: 5 * time.Second}

func (p Policy) withDefaults() Policy {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = retryableByDefault
	}
	if p.Backoff == nil {
		p.Backoff = defaultBackoff
	}
	return p
}

// Do calls fn until it succeeds, returns an error p does not retry, or runs
// out of attempts. The last error from fn is returned unchanged; a context
// that ends during backoff wins over it.
func Do(ctx context.Context, fn func() error, p Policy) error {
	p = p.withDefaults()
	start := time.Now()
	outcome := "ok"
	defer func() {
		retryDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
		retryOutcomes.WithLabelValues(p.Name, outcome).Inc()
	}()
	span := trace.SpanFromContext(ctx)

	for attempt := 0; ; attempt++ {
		retryCalls.WithLabelValues(p.Name).Inc()
		err := fn()
		if err == nil {
			return nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.name", p.Name),
			attribute.Int("retry.attempt", attempt+1),
			attribute.String("retry.error", err.Error()),
		))

		last := attempt == p.Attempts-1
		if !p.Retryable(err) || last {
			outcome = "exhausted"
			if !last {
				outcome = "permanent"
			}
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}

		t := time.NewTimer(p.Backoff.Next(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			outcome = "canceled"
			return ctx.Err()
		case <-t.C:
		}
	}
}
