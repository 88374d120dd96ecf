// Package embedding defines the port the engine uses to turn text into
// vectors, plus the local deterministic, HTTP-backed, and circuit-breaker
// wrapped implementations of it.
package embedding

import "context"

// Provider is the embedding port. Implementations must be safe
// for concurrent use.
type Provider interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}
