package token_sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

type Runner struct {
	Log     *zap.Logger
	UC      *Usecase
	Tick    time.Duration
	Timeout time.Duration

	mRemoved *prometheus.CounterVec
	mErr     prometheus.Counter
	mLoopDur prometheus.Histogram
}

func New(log *zap.Logger, uc *Usecase, tick, timeout time.Duration, reg prometheus.Registerer) *Runner {
	f := promauto.With(reg)
	return &Runner{
		Log:     log,
		UC:      uc,
		Tick:    tick,
		Timeout: timeout,
		mRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_tokens_removed_total", Help: "Expired refresh token records removed",
		}, []string{"store"}),
		mErr: f.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_errors_total", Help: "Errors in sweeper loop",
		}),
		mLoopDur: f.NewHistogram(prometheus.HistogramOpts{
			Name: "sweeper_loop_duration_seconds", Help: "Sweeper tick duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	removed, err := r.UC.Tick(ctx)
	if err != nil {
		r.mErr.Inc()
		r.Log.Warn("sweep error", zap.Error(err))
	}
	for store, n := range removed {
		r.mRemoved.WithLabelValues(store).Add(float64(n))
		if n > 0 {
			r.Log.Info("swept expired refresh tokens", zap.String("store", store), zap.Int64("removed", n))
		}
	}
	r.mLoopDur.Observe(time.Since(start).Seconds())
}

// Run sweeps immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
