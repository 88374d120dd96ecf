package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loreforge/episodic-memory/internal/memory"
)

func TestScoreIsZeroForBareEpisode(t *testing.T) {
	a := NewAssessor(0)
	ep := &memory.Episode{}
	assert.Equal(t, 0.0, a.Score(ep))
}

func TestScoreAccumulatesAllFourSignals(t *testing.T) {
	a := NewAssessor(0)
	ep := &memory.Episode{
		Outcome:    &memory.Outcome{Kind: memory.OutcomeSuccess, Verdict: "all tests pass"},
		Reflection: "the fix required updating the mock clock",
		Steps: []memory.ExecutionStep{
			{StepNumber: 1, Result: &memory.StepResult{Kind: memory.StepResultSuccess}},
		},
	}
	assert.InDelta(t, 1.0, a.Score(ep), 1e-9)
}

func TestScoreFlagsInconsistentOutcomeAndSteps(t *testing.T) {
	a := NewAssessor(0)
	ep := &memory.Episode{
		Outcome: &memory.Outcome{Kind: memory.OutcomeSuccess, Verdict: "done"},
		Steps: []memory.ExecutionStep{
			{StepNumber: 1, Result: &memory.StepResult{Kind: memory.StepResultError}},
		},
	}
	// outcome (0.25) + steps present (0.25) = 0.5, consistency signal withheld.
	assert.InDelta(t, 0.5, a.Score(ep), 1e-9)
}

func TestIsLowQualityRespectsThreshold(t *testing.T) {
	a := NewAssessor(0.5)
	assert.True(t, a.IsLowQuality(0.49))
	assert.False(t, a.IsLowQuality(0.5))
}

func TestNewAssessorDefaultsNonPositiveThreshold(t *testing.T) {
	a := NewAssessor(0)
	assert.Equal(t, 0.3, a.threshold)
	a = NewAssessor(-1)
	assert.Equal(t, 0.3, a.threshold)
}

func TestReflectionSignalRequiresAtLeastThreeWords(t *testing.T) {
	a := NewAssessor(0)
	twoWords := &memory.Episode{Reflection: "too short"}
	threeWords := &memory.Episode{Reflection: "just long enough"}
	assert.Less(t, a.Score(twoWords), a.Score(threeWords))
}
