// Package durable implements the episodic memory engine's durable storage
// tier: a SQLite-backed (via modernc.org/sqlite, pure Go) store for
// episodes, patterns, relationships, tags, and embeddings.
package durable

import (
	"context"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
)

// EpisodeFilter narrows ListEpisodes for the retrieval pipeline's temporal
// and spatial/domain-tag stages.
type EpisodeFilter struct {
	Since      time.Time
	Until      time.Time
	TaskType   memory.TaskType
	Domain     string
	Tags       []string
	TagMode    memory.TagMode
	LowQuality *bool
	Limit      int
}

// Store is the durable tier's full operation surface.
type Store interface {
	SaveEpisode(ctx context.Context, ep *memory.Episode) error
	GetEpisode(ctx context.Context, id memory.EpisodeID) (*memory.Episode, error)
	ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]*memory.Episode, error)
	DeleteEpisode(ctx context.Context, id memory.EpisodeID) error
	ReplaceWithSummary(ctx context.Context, id memory.EpisodeID, summary memory.SalientFeatureSummary) error

	AppendStep(ctx context.Context, episodeID memory.EpisodeID, step memory.ExecutionStep) error

	SaveRelationship(ctx context.Context, r memory.Relationship) error
	ListRelationships(ctx context.Context, episodeID memory.EpisodeID, dir memory.Direction, kind *memory.RelationshipKind) ([]memory.Relationship, error)
	DeleteRelationship(ctx context.Context, id memory.RelationshipID) error

	TouchTags(ctx context.Context, tags []string, at time.Time) error
	ListTags(ctx context.Context) ([]memory.TagMetadata, error)

	SavePattern(ctx context.Context, p *memory.Pattern) error
	GetPattern(ctx context.Context, id memory.PatternID) (*memory.Pattern, error)
	ListPatterns(ctx context.Context, filter memory.PatternFilter) ([]*memory.Pattern, error)
	UpdatePatternEffectiveness(ctx context.Context, id memory.PatternID, eff memory.PatternEffectiveness) error

	SaveEmbedding(ctx context.Context, ownerKind, ownerID, model string, vector []float32) error
	SearchEmbeddings(ctx context.Context, ownerKind string, dimension int, query []float32, k int) ([]EmbeddingMatch, error)
	SearchFTS(ctx context.Context, queryText string, k int) ([]FTSMatch, error)

	Close() error
}

// EmbeddingMatch is a single nearest-neighbor hit from SearchEmbeddings.
type EmbeddingMatch struct {
	OwnerID string
	Score   float64
}

// FTSMatch is a single lexical hit from SearchFTS, scored by SQLite's bm25().
// Score is negated-bm25 (higher is better), matching the convention
// SearchEmbeddings uses for cosine similarity so callers can blend the two
// without sign confusion.
type FTSMatch struct {
	EpisodeID string
	Score     float64
}
