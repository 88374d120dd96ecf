// Package quality implements the quality assessor (episode admission
// control) and the capacity manager (retention under a storage ceiling).
package quality

import (
	"strings"

	"github.com/loreforge/episodic-memory/internal/memory"
)

// Assessor scores a completed episode on [0,1] and flags it low_quality
// when that score falls below a configured threshold.
type Assessor struct {
	threshold float64
}

func NewAssessor(threshold float64) *Assessor {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &Assessor{threshold: threshold}
}

// Score combines four signals, each contributing up to 0.25: a clear
// outcome (non-empty verdict/reason), a non-trivial reflection, a
// plausible step count (at least one recorded step), and internal
// consistency between the outcome kind and whether any step recorded a
// success result.
func (a *Assessor) Score(ep *memory.Episode) float64 {
	var score float64

	if ep.Outcome != nil {
		switch ep.Outcome.Kind {
		case memory.OutcomeSuccess:
			if strings.TrimSpace(ep.Outcome.Verdict) != "" {
				score += 0.25
			}
		case memory.OutcomePartial:
			if len(ep.Outcome.CompletedItems)+len(ep.Outcome.FailedItems) > 0 {
				score += 0.25
			}
		case memory.OutcomeFailure:
			if strings.TrimSpace(ep.Outcome.Reason) != "" {
				score += 0.25
			}
		}
	}

	if len(strings.Fields(ep.Reflection)) >= 3 {
		score += 0.25
	}

	if len(ep.Steps) > 0 {
		score += 0.25
	}

	if a.outcomeConsistentWithSteps(ep) {
		score += 0.25
	}

	return score
}

func (a *Assessor) outcomeConsistentWithSteps(ep *memory.Episode) bool {
	if ep.Outcome == nil || len(ep.Steps) == 0 {
		return false
	}
	anySuccess := false
	for _, s := range ep.Steps {
		if s.Result != nil && s.Result.Success() {
			anySuccess = true
			break
		}
	}
	switch ep.Outcome.Kind {
	case memory.OutcomeSuccess:
		return anySuccess
	case memory.OutcomeFailure:
		return !anySuccess
	default:
		return true
	}
}

// IsLowQuality reports whether score falls below the assessor's reject
// threshold.
func (a *Assessor) IsLowQuality(score float64) bool {
	return score < a.threshold
}
