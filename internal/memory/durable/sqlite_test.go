package durable

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreforge/episodic-memory/internal/memory"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path, memory.DefaultConfig().Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEpisode() *memory.Episode {
	now := time.Now().Truncate(time.Second)
	end := now.Add(5 * time.Minute)
	return &memory.Episode{
		ID:              memory.NewID(),
		TaskDescription: "fix the flaky retry test",
		TaskType:        memory.TaskTypeDebugging,
		Context: memory.TaskContext{
			Language:   "go",
			Framework:  "testify",
			Complexity: memory.ComplexityModerate,
			Domain:     "backend",
		},
		StartTime: now,
		EndTime:   &end,
		Outcome:   &memory.Outcome{Kind: memory.OutcomeSuccess, Verdict: "fixed"},
		Reward:    &memory.RewardScore{Total: 0.8, Base: 0.5, Efficiency: 0.2},
		Steps: []memory.ExecutionStep{
			{StepNumber: 1, Timestamp: now, Tool: "grep", Action: "search", Result: &memory.StepResult{Kind: memory.StepResultSuccess}},
			{StepNumber: 2, Timestamp: now.Add(time.Second), Tool: "edit", Action: "patch", Result: &memory.StepResult{Kind: memory.StepResultSuccess}},
		},
		Tags:       []string{"flaky", "retry"},
		Reflection: "the retry loop needed a jitter",
	}
}

func TestSaveThenGetEpisodeRoundTrips(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()

	require.NoError(t, store.SaveEpisode(ctx, ep))

	got, err := store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.TaskDescription, got.TaskDescription)
	assert.Equal(t, ep.TaskType, got.TaskType)
	assert.Equal(t, ep.Context, got.Context)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, ep.Outcome.Kind, got.Outcome.Kind)
	require.NotNil(t, got.Reward)
	assert.InDelta(t, ep.Reward.Total, got.Reward.Total, 1e-9)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, []string{"flaky", "retry"}, got.Tags)
	assert.Equal(t, ep.Reflection, got.Reflection)
}

func TestGetEpisodeMissingReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetEpisode(context.Background(), memory.NewID())
	assert.ErrorIs(t, err, memerrors.ErrNotFound)
}

func TestSaveEpisodeUpsertsOnSecondCall(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, ep))

	ep.TaskDescription = "updated description"
	ep.Tags = []string{"flaky"}
	require.NoError(t, store.SaveEpisode(ctx, ep))

	got, err := store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated description", got.TaskDescription)
	assert.Equal(t, []string{"flaky"}, got.Tags)
}

func TestDeleteEpisodeRemovesIt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, ep))

	require.NoError(t, store.DeleteEpisode(ctx, ep.ID))
	_, err := store.GetEpisode(ctx, ep.ID)
	assert.ErrorIs(t, err, memerrors.ErrNotFound)
}

func TestDeleteEpisodeMissingReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)
	err := store.DeleteEpisode(context.Background(), memory.NewID())
	assert.ErrorIs(t, err, memerrors.ErrNotFound)
}

func TestListEpisodesFiltersByDomainAndTaskType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	backend := sampleEpisode()
	frontend := sampleEpisode()
	frontend.Context.Domain = "frontend"
	frontend.TaskType = memory.TaskTypeRefactoring

	require.NoError(t, store.SaveEpisode(ctx, backend))
	require.NoError(t, store.SaveEpisode(ctx, frontend))

	out, err := store.ListEpisodes(ctx, EpisodeFilter{Domain: "backend"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, backend.ID, out[0].ID)

	out, err = store.ListEpisodes(ctx, EpisodeFilter{TaskType: memory.TaskTypeRefactoring})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, frontend.ID, out[0].ID)
}

func TestListEpisodesTagModeAllRequiresEveryTag(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	both := sampleEpisode()
	both.Tags = []string{"flaky", "retry"}
	onlyOne := sampleEpisode()
	onlyOne.Tags = []string{"flaky"}

	require.NoError(t, store.SaveEpisode(ctx, both))
	require.NoError(t, store.SaveEpisode(ctx, onlyOne))

	out, err := store.ListEpisodes(ctx, EpisodeFilter{Tags: []string{"flaky", "retry"}, TagMode: memory.TagModeAll})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, both.ID, out[0].ID)

	out, err = store.ListEpisodes(ctx, EpisodeFilter{Tags: []string{"flaky", "retry"}, TagMode: memory.TagModeAny})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestListEpisodesRespectsLimitAndRecencyOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := sampleEpisode()
	older.StartTime = time.Now().Add(-time.Hour)
	newer := sampleEpisode()
	newer.StartTime = time.Now()

	require.NoError(t, store.SaveEpisode(ctx, older))
	require.NoError(t, store.SaveEpisode(ctx, newer))

	out, err := store.ListEpisodes(ctx, EpisodeFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, newer.ID, out[0].ID)
}

func TestReplaceWithSummaryDropsStepsAndReflection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, ep))

	summary := memory.SalientFeatureSummary{ToolsUsed: []string{"grep", "edit"}, TaskKeywords: []string{"retry"}}
	require.NoError(t, store.ReplaceWithSummary(ctx, ep.ID, summary))

	got, err := store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Steps)
	assert.Empty(t, got.Reflection)
	assert.True(t, got.Summarized)
	require.NotNil(t, got.Salient)
	assert.Equal(t, summary.ToolsUsed, got.Salient.ToolsUsed)
}

func TestAppendStepAddsToExistingEpisode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, ep))

	newStep := memory.ExecutionStep{
		StepNumber: 3, Timestamp: time.Now(), Tool: "test", Action: "run",
		Result: &memory.StepResult{Kind: memory.StepResultSuccess},
	}
	require.NoError(t, store.AppendStep(ctx, ep.ID, newStep))

	got, err := store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 3)
}

func TestSaveAndListRelationships(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	from := sampleEpisode()
	to := sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, from))
	require.NoError(t, store.SaveEpisode(ctx, to))

	rel := memory.Relationship{
		ID: memory.NewID(), FromEpisodeID: from.ID, ToEpisodeID: to.ID,
		Kind: memory.RelationshipDependsOn, Reason: "needs prior fix", CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveRelationship(ctx, rel))

	out, err := store.ListRelationships(ctx, from.ID, memory.DirectionOutgoing, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rel.Kind, out[0].Kind)

	out, err = store.ListRelationships(ctx, to.ID, memory.DirectionIncoming, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = store.ListRelationships(ctx, to.ID, memory.DirectionOutgoing, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeleteRelationshipRemovesIt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	from, to := sampleEpisode(), sampleEpisode()
	require.NoError(t, store.SaveEpisode(ctx, from))
	require.NoError(t, store.SaveEpisode(ctx, to))

	rel := memory.Relationship{ID: memory.NewID(), FromEpisodeID: from.ID, ToEpisodeID: to.ID, Kind: memory.RelationshipBlocks, CreatedAt: time.Now()}
	require.NoError(t, store.SaveRelationship(ctx, rel))
	require.NoError(t, store.DeleteRelationship(ctx, rel.ID))

	out, err := store.ListRelationships(ctx, from.ID, memory.DirectionBoth, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTouchTagsAccumulatesUsageCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.TouchTags(ctx, []string{"flaky"}, now))
	require.NoError(t, store.TouchTags(ctx, []string{"flaky"}, now.Add(time.Minute)))

	tags, err := store.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.EqualValues(t, 2, tags[0].UsageCount)
}

func samplePattern() *memory.Pattern {
	return &memory.Pattern{
		ID:   memory.NewID(),
		Kind: memory.PatternKindToolSequence,
		ToolSequence: &memory.ToolSequencePattern{
			Tools: []string{"grep", "edit"}, Context: "backend", SuccessRate: 0.9, Occurrences: 3,
		},
		Effectiveness: memory.PatternEffectiveness{CreatedAt: time.Now()},
	}
}

func TestSaveThenGetPatternRoundTrips(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	p := samplePattern()

	require.NoError(t, store.SavePattern(ctx, p))

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Kind, got.Kind)
	require.NotNil(t, got.ToolSequence)
	assert.Equal(t, p.ToolSequence.Tools, got.ToolSequence.Tools)
	assert.InDelta(t, p.ToolSequence.SuccessRate, got.ToolSequence.SuccessRate, 1e-9)
}

func TestGetPatternMissingReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetPattern(context.Background(), memory.NewID())
	assert.ErrorIs(t, err, memerrors.ErrNotFound)
}

func TestListPatternsFiltersByKind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	toolSeq := samplePattern()
	decision := &memory.Pattern{
		ID:            memory.NewID(),
		Kind:          memory.PatternKindDecisionPoint,
		DecisionPoint: &memory.DecisionPointPattern{Condition: "on error", Action: "retry"},
		Effectiveness: memory.PatternEffectiveness{CreatedAt: time.Now()},
	}
	require.NoError(t, store.SavePattern(ctx, toolSeq))
	require.NoError(t, store.SavePattern(ctx, decision))

	out, err := store.ListPatterns(ctx, memory.PatternFilter{Kind: memory.PatternKindDecisionPoint})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, decision.ID, out[0].ID)
}

func TestUpdatePatternEffectivenessPersists(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	p := samplePattern()
	require.NoError(t, store.SavePattern(ctx, p))

	eff := memory.PatternEffectiveness{
		TimesRetrieved: 5, TimesApplied: 3, SuccessWhenApplied: 2, FailureWhenApplied: 1,
		AvgRewardDelta: 0.4, LastUsed: time.Now(),
	}
	require.NoError(t, store.UpdatePatternEffectiveness(ctx, p.ID, eff))

	got, err := store.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Effectiveness.TimesRetrieved)
	assert.EqualValues(t, 2, got.Effectiveness.SuccessWhenApplied)
}

func TestUpdatePatternEffectivenessMissingReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpdatePatternEffectiveness(context.Background(), memory.NewID(), memory.PatternEffectiveness{})
	assert.ErrorIs(t, err, memerrors.ErrNotFound)
}

func TestSaveEmbeddingThenSearchReturnsNearestByCosine(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmbedding(ctx, "episode", "close", "m", []float32{1, 0, 0}))
	require.NoError(t, store.SaveEmbedding(ctx, "episode", "far", "m", []float32{0, 1, 0}))

	out, err := store.SearchEmbeddings(ctx, "episode", 3, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "close", out[0].OwnerID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-6)
}

func TestSearchEmbeddingsRespectsK(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveEmbedding(ctx, "episode", string(rune('a'+i)), "m", []float32{float32(i), 1, 0}))
	}

	out, err := store.SearchEmbeddings(ctx, "episode", 3, []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSearchFTSFindsEpisodeByTaskDescription(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	ep.TaskDescription = "debug the websocket reconnect loop"
	require.NoError(t, store.SaveEpisode(ctx, ep))

	out, err := store.SearchFTS(ctx, "websocket", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ep.ID.String(), out[0].EpisodeID)
}

func TestSearchFTSEmptyQueryReturnsNoMatches(t *testing.T) {
	store := setupTestStore(t)
	out, err := store.SearchFTS(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSearchFTSReflectsEpisodeUpdates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ep := sampleEpisode()
	ep.TaskDescription = "investigate memory leak"
	require.NoError(t, store.SaveEpisode(ctx, ep))

	ep.TaskDescription = "investigate cpu spike"
	require.NoError(t, store.SaveEpisode(ctx, ep))

	out, err := store.SearchFTS(ctx, "leak", 5)
	require.NoError(t, err)
	assert.Empty(t, out, "fts index should reflect the updated description, not the stale one")

	out, err = store.SearchFTS(ctx, "spike", 5)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
