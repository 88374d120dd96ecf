package facade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/cache"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
	"github.com/loreforge/episodic-memory/internal/memory/extraction"
	"github.com/loreforge/episodic-memory/internal/memory/retrieval"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	cfg := memory.DefaultConfig()

	durableStore, err := durable.Open(filepath.Join(t.TempDir(), "test.db"), cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = durableStore.Close() })

	cacheStore, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 1000, time.Minute)
	require.NoError(t, err)

	pipeline := retrieval.NewPipeline(durableStore, nil, 10, 0.7, 0.5)
	extractor := extraction.New(durableStore, extraction.DefaultConfig())

	f := New(cfg, durableStore, cacheStore, pipeline, extractor, nil)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestStartLogCompleteEpisodeLifecycle(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.StartEpisode(ctx, "fix the flaky retry test", memory.TaskContext{Domain: "backend"}, memory.TaskTypeDebugging)
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, f.LogStep(ctx, id, memory.ExecutionStep{
		Tool: "grep", Action: "search", Result: &memory.StepResult{Kind: memory.StepResultSuccess},
	}))
	require.NoError(t, f.LogStep(ctx, id, memory.ExecutionStep{
		Tool: "edit", Action: "patch", Result: &memory.StepResult{Kind: memory.StepResultSuccess},
	}))

	ep, err := f.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Len(t, ep.Steps, 2)
	assert.Equal(t, 1, ep.Steps[0].StepNumber)
	assert.Equal(t, 2, ep.Steps[1].StepNumber)
	assert.True(t, ep.IsOpen())

	completed, err := f.CompleteEpisode(ctx, id, memory.Outcome{Kind: memory.OutcomeSuccess, Verdict: "fixed"}, "added jitter to the retry loop")
	require.NoError(t, err)
	require.NotNil(t, completed.Reward)
	assert.True(t, completed.IsComplete())
	assert.Greater(t, completed.Reward.Total, 0.0)
}

func TestCompleteEpisodeIsIdempotent(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	first, err := f.CompleteEpisode(ctx, id, memory.Outcome{Kind: memory.OutcomeSuccess}, "")
	require.NoError(t, err)

	second, err := f.CompleteEpisode(ctx, id, memory.Outcome{Kind: memory.OutcomeFailure}, "different")
	require.NoError(t, err)
	assert.Equal(t, first.Outcome.Kind, second.Outcome.Kind, "completing an already-complete episode must not overwrite its outcome")
}

func TestLogStepOnClosedEpisodeReturnsErrClosed(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)
	_, err = f.CompleteEpisode(ctx, id, memory.Outcome{Kind: memory.OutcomeSuccess}, "")
	require.NoError(t, err)

	err = f.LogStep(ctx, id, memory.ExecutionStep{Tool: "grep"})
	assert.ErrorIs(t, err, memerrors.ErrClosed)
}

func TestStartEpisodeRejectsEmptyDescription(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.StartEpisode(context.Background(), "", memory.TaskContext{}, memory.TaskTypeOther)
	assert.ErrorIs(t, err, memerrors.ErrInvalidInput)
}

func TestAddTagIsIdempotent(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	added, err := f.AddTag(ctx, id, "Flaky")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.AddTag(ctx, id, "flaky")
	require.NoError(t, err)
	assert.False(t, added, "re-adding the same tag after normalization should report no change")

	ep, err := f.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, ep.Tags)
}

func TestRemoveTagReportsWhetherItWasPresent(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	_, err = f.AddTag(ctx, id, "flaky")
	require.NoError(t, err)

	removed, err := f.RemoveTag(ctx, id, "flaky")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.RemoveTag(ctx, id, "flaky")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFindByTagsAllModeRequiresEveryTag(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id1, err := f.StartEpisode(ctx, "one", memory.TaskContext{Tags: []string{"flaky", "retry"}}, memory.TaskTypeOther)
	require.NoError(t, err)
	_, err = f.StartEpisode(ctx, "two", memory.TaskContext{Tags: []string{"flaky"}}, memory.TaskTypeOther)
	require.NoError(t, err)

	out, err := f.FindByTags(ctx, []string{"flaky", "retry"}, memory.TagModeAll, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, id1, out[0].ID)
}

func TestAddRelationshipRejectsSelfRelationship(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	_, err = f.AddRelationship(ctx, id, id, memory.RelationshipRelatedTo, "", "", 0, nil)
	assert.ErrorIs(t, err, memerrors.ErrInvalidInput)
}

func TestAddRelationshipThenListInBothDirections(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	from, err := f.StartEpisode(ctx, "from", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)
	to, err := f.StartEpisode(ctx, "to", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	rel, err := f.AddRelationship(ctx, from, to, memory.RelationshipDependsOn, "needs fix first", "tester", 1, nil)
	require.NoError(t, err)
	require.NotZero(t, rel.ID)

	out, err := f.ListRelationships(ctx, from, memory.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, memory.RelationshipDependsOn, out[0].Kind)

	out, err = f.ListRelationships(ctx, to, memory.DirectionIncoming, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	require.NoError(t, f.RemoveRelationship(ctx, rel.ID))
	out, err = f.ListRelationships(ctx, from, memory.DirectionBoth, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestQueryDegradesWithoutEmbeddingProvider(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_, err := f.StartEpisode(ctx, "fix the flaky retry loop", memory.TaskContext{Domain: "backend"}, memory.TaskTypeDebugging)
	require.NoError(t, err)

	resp, err := f.Query(ctx, retrieval.Query{Text: "flaky retry"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
}

func TestEnforceCapacityIsNoOpUnderCeiling(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_, err := f.StartEpisode(ctx, "task", memory.TaskContext{}, memory.TaskTypeOther)
	require.NoError(t, err)

	demoted, err := f.EnforceCapacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, demoted)
}

func TestCompleteEpisodeDispatchesExtractionInlineWithoutBus(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	id, err := f.StartEpisode(ctx, "task", memory.TaskContext{Domain: "backend"}, memory.TaskTypeDebugging)
	require.NoError(t, err)

	require.NoError(t, f.LogStep(ctx, id, memory.ExecutionStep{Tool: "grep", Result: &memory.StepResult{Kind: memory.StepResultSuccess}}))
	require.NoError(t, f.LogStep(ctx, id, memory.ExecutionStep{Tool: "edit", Result: &memory.StepResult{Kind: memory.StepResultSuccess}}))

	_, err = f.CompleteEpisode(ctx, id, memory.Outcome{Kind: memory.OutcomeSuccess, Verdict: "done"}, "")
	require.NoError(t, err)

	ep, err := f.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ExtractedPatternIDs, "inline extraction fallback should attach newly attested pattern ids")
}
