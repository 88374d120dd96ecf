package retrieval

import (
	"context"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
)

// temporalCandidates is stage 1: narrow the full episode population to
// those whose start_time falls within [Since, Until], excluding episodes
// the quality assessor has flagged low_quality — those are stored but never
// surfaced by retrieval.
func temporalCandidates(ctx context.Context, store durable.Store, q Query) ([]*memory.Episode, error) {
	excludeLowQuality := false
	return store.ListEpisodes(ctx, durable.EpisodeFilter{
		Since:      q.Since,
		Until:      q.Until,
		LowQuality: &excludeLowQuality,
	})
}
