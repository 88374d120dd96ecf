package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	"github.com/loreforge/episodic-memory/internal/memory/embedding"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// semanticRank is stage 3: score stage 1+2's surviving candidates by
// semantic similarity to the query text, optionally blended with a lexical
// BM25 score when Hybrid is requested. If the embedding provider is
// unavailable, ranking degrades to recency order (the candidates arrive
// already sorted that way) and the caller is told so via the returned bool,
// rather than failing the whole query — retrieval must stay available when
// only the "smart" ranking signal is missing.
func semanticRank(ctx context.Context, candidates []*memory.Episode, q Query, store durable.Store, provider embedding.Provider) ([]Result, bool, string) {
	results := make([]Result, len(candidates))
	for i, ep := range candidates {
		results[i] = Result{Episode: ep}
	}

	if q.Text == "" {
		return recencyScored(results), false, ""
	}
	if provider == nil {
		return recencyScored(results), true, "embedding provider not configured"
	}

	queryVec, err := provider.Generate(ctx, q.Text)
	if err != nil {
		reason := "embedding provider unavailable"
		if errors.Is(err, memerrors.ErrCircuitOpen) {
			reason = "embedding provider circuit open"
		}
		return recencyScored(results), true, reason
	}

	byID := make(map[string]int, len(candidates))
	for i, ep := range candidates {
		byID[ep.ID.String()] = i
	}

	cosineScores := make(map[string]float64)
	matches, err := store.SearchEmbeddings(ctx, "episode", provider.Dimension(), queryVec, len(candidates)*4+16)
	if err == nil {
		for _, m := range matches {
			if _, ok := byID[m.OwnerID]; ok {
				cosineScores[m.OwnerID] = m.Score
			}
		}
	}

	lexScores := make(map[string]float64)
	if q.Hybrid {
		ftsMatches, err := store.SearchFTS(ctx, q.Text, len(candidates)*4+16)
		if err == nil {
			for _, m := range ftsMatches {
				if _, ok := byID[m.EpisodeID]; ok {
					lexScores[m.EpisodeID] = m.Score
				}
			}
		}
	}

	alpha := q.Alpha
	if alpha <= 0 && !q.Hybrid {
		alpha = 1
	}
	if alpha == 0 && q.Hybrid {
		alpha = 0.5
	}

	for i, ep := range candidates {
		id := ep.ID.String()
		cos := cosineScores[id]
		if !q.Hybrid {
			results[i].Score = cos
			continue
		}
		results[i].Score = alpha*cos + (1-alpha)*lexScores[id]
	}

	return results, false, ""
}

// recencyScored assigns a descending synthetic score matching the
// already-recency-sorted input order, so diversity selection's ranking
// logic doesn't need a separate "no score" code path.
func recencyScored(results []Result) []Result {
	n := len(results)
	for i := range results {
		results[i].Score = float64(n - i)
	}
	return results
}

// stableSortByScoreThenTieBreak applies the pipeline's tie-break order:
// score descending, then end_time descending, then reward descending,
// then id lexicographic ascending.
func stableSortByScoreThenTieBreak(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ei, ej := endTimeOf(results[i].Episode), endTimeOf(results[j].Episode)
		if !ei.Equal(ej) {
			return ei.After(ej)
		}
		ri, rj := rewardOf(results[i].Episode), rewardOf(results[j].Episode)
		if ri != rj {
			return ri > rj
		}
		return results[i].Episode.ID.String() < results[j].Episode.ID.String()
	})
}

func endTimeOf(ep *memory.Episode) time.Time {
	if ep.EndTime == nil {
		return ep.StartTime
	}
	return *ep.EndTime
}

func rewardOf(ep *memory.Episode) float64 {
	if ep.Reward == nil {
		return 0
	}
	return ep.Reward.Total
}
