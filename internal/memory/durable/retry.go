package durable

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// breakerHandle wraps a gobreaker.CircuitBreaker so callers elsewhere in the
// package never need to import gobreaker directly and never see its
// ErrOpenState/ErrTooManyRequests — those translate to the shared
// CircuitOpen sentinel at this boundary.
type breakerHandle struct {
	cb *gobreaker.CircuitBreaker
}

// newBreaker configures a circuit breaker tripping after 5 consecutive
// failures, the same shape kubernaut's remediation executor uses around its
// own flaky dependency calls, adapted here to guard the durable store's
// SQLite handle against stalling callers when the disk or VFS misbehaves.
// NotFound, InvalidInput and Conflict results are answers from a healthy
// store, so they do not count as failures.
func newBreaker(name string) *breakerHandle {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, memerrors.ErrNotFound) ||
				errors.Is(err, memerrors.ErrInvalidInput) || errors.Is(err, memerrors.ErrConflict)
		},
	}
	return &breakerHandle{cb: gobreaker.NewCircuitBreaker(st)}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return memerrors.ErrCircuitOpen
	}
	return err
}

// run executes fn through the breaker, used for write paths that only
// return an error.
func (b *breakerHandle) run(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return translate(err)
}

// withBreaker executes fn through the breaker and returns its value,
// used for read paths that return a result alongside the error.
func withBreaker[T any](b *breakerHandle, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, translate(err)
	}
	return v.(T), nil
}
