// Package retrieval implements the four-stage retrieval pipeline: temporal
// filter, spatial/domain-tag filter, semantic ranking, and MMR diversity
// selection.
package retrieval

import (
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
)

// Query narrows and ranks the candidate pool. A zero-value field means "no
// constraint" except K, Lambda and Alpha, which default via Pipeline's
// configured defaults (so Lambda 0 and Alpha 0 are reached only through a
// small positive value).
type Query struct {
	Text     string
	Since    time.Time
	Until    time.Time
	TaskType memory.TaskType
	Domain   string
	Tags     []string
	TagMode  memory.TagMode

	K      int
	Lambda float64 // MMR weight, 0 (pure diversity) .. 1 (pure relevance, diversity off)
	Alpha  float64 // hybrid lexical/semantic blend weight, 0 (pure bm25) .. 1 (pure cosine)
	Hybrid bool
}

// Result is one ranked hit.
type Result struct {
	Episode *memory.Episode
	Score   float64
}

// Response is the pipeline's output, including the non-error "degraded"
// annotation set when the embedding provider failed and ranking fell back
// to recency/lexical-only ordering.
type Response struct {
	Results  []Result
	Degraded bool
	Reason   string
}
