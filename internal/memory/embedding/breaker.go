package embedding

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// CircuitBreaker wraps a Provider so that a failing remote embedding
// backend trips the circuit and subsequent calls fail fast with
// ErrCircuitOpen rather than stacking up slow timeouts, while successful
// calls pass straight through. Callers that want best-effort degraded
// retrieval should treat ErrCircuitOpen from
// Generate/GenerateBatch as a signal to proceed without embeddings, not as
// a fatal error.
type CircuitBreaker struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// WrapCircuitBreaker builds a CircuitBreaker around inner, tripping after 3
// consecutive failures — tighter than the durable store's threshold since a
// remote embedding call is a soft dependency the retrieval pipeline can run
// without, while the durable store cannot.
func WrapCircuitBreaker(inner Provider) *CircuitBreaker {
	st := gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[EMBEDDING] circuit %s: %s -> %s", name, from, to)
		},
	}
	return &CircuitBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (c *CircuitBreaker) Dimension() int    { return c.inner.Dimension() }
func (c *CircuitBreaker) ModelName() string { return c.inner.ModelName() }

func (c *CircuitBreaker) Generate(ctx context.Context, text string) ([]float32, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.Generate(ctx, text)
	})
	if err != nil {
		return nil, translateBreakerErr(err)
	}
	return v.([]float32), nil
}

func (c *CircuitBreaker) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.GenerateBatch(ctx, texts)
	})
	if err != nil {
		return nil, translateBreakerErr(err)
	}
	return v.([][]float32), nil
}

func translateBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return memerrors.ErrCircuitOpen
	}
	return err
}
