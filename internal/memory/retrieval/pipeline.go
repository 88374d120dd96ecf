package retrieval

import (
	"context"

	"github.com/loreforge/episodic-memory/internal/memory/durable"
	"github.com/loreforge/episodic-memory/internal/memory/embedding"
)

// Pipeline runs the four-stage retrieval flow: temporal filter, spatial/tag
// filter, semantic ranking, MMR diversity selection.
type Pipeline struct {
	store        durable.Store
	provider     embedding.Provider
	defaultK     int
	defaultLambda float64
	defaultAlpha float64
}

// NewPipeline builds a Pipeline. provider may be nil, in which case ranking
// always degrades to recency order.
func NewPipeline(store durable.Store, provider embedding.Provider, defaultK int, defaultLambda, defaultAlpha float64) *Pipeline {
	if defaultK <= 0 {
		defaultK = 10
	}
	if defaultLambda <= 0 {
		defaultLambda = 0.7
	}
	if defaultAlpha <= 0 {
		defaultAlpha = 0.5
	}
	return &Pipeline{store: store, provider: provider, defaultK: defaultK, defaultLambda: defaultLambda, defaultAlpha: defaultAlpha}
}

// Run executes all four stages and returns the final ranked, diversified
// result set.
func (p *Pipeline) Run(ctx context.Context, q Query) (*Response, error) {
	if q.K <= 0 {
		q.K = p.defaultK
	}
	if q.Lambda <= 0 {
		q.Lambda = p.defaultLambda
	}
	if q.Alpha <= 0 {
		q.Alpha = p.defaultAlpha
	}

	temporal, err := temporalCandidates(ctx, p.store, q)
	if err != nil {
		return nil, err
	}

	spatial := spatialFilter(temporal, q)

	scored, degraded, reason := semanticRank(ctx, spatial, q, p.store, p.provider)
	stableSortByScoreThenTieBreak(scored)

	final := mmrSelect(scored, q.K, q.Lambda)

	return &Response{Results: final, Degraded: degraded, Reason: reason}, nil
}
