package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying under the default predicate.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func retryableByDefault(err error) bool {
	return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// DefaultPublishPolicy is used for session event delivery to the broker.
func DefaultPublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:      "session_event_publish",
		Attempts:  6,
		Backoff:   ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: retryableByDefault,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.Error(err))
			}
		},
	}
}

// StorePolicy retries short-lived store outages on a request path.
func StorePolicy(name string, attempts int) Policy {
	return Policy{
		Name:      name,
		Attempts:  attempts,
		Backoff:   ExpoJitter{Base: 20 * time.Millisecond, Max: 200 * time.Millisecond, Jitter: 0.1},
		Retryable: retryableByDefault,
	}
}
