package extraction

import (
	"context"
	"strings"

	"github.com/loreforge/episodic-memory/internal/memory"
)

type errorRecoveryCandidate struct {
	id            memory.PatternID
	errorType     string
	recoverySteps []string
	context       string
	recovered     bool
}

// errorRecoveryCandidates scans for a step whose result is an error and
// looks forward for the shortest run of subsequent steps terminating in a
// success (the recovery), or the episode's end without one.
func errorRecoveryCandidates(ep *memory.Episode) []errorRecoveryCandidate {
	var out []errorRecoveryCandidate
	for i, step := range ep.Steps {
		if step.Result == nil || step.Result.Kind != memory.StepResultError {
			continue
		}
		errorType := step.Result.Message
		if errorType == "" {
			errorType = step.Tool + "_error"
		}

		var recovery []string
		recovered := false
		for j := i + 1; j < len(ep.Steps); j++ {
			next := ep.Steps[j]
			recovery = append(recovery, next.Tool)
			if next.Result != nil && next.Result.Success() {
				recovered = true
				break
			}
		}
		if len(recovery) == 0 {
			continue
		}
		sig := errorType + "|" + strings.Join(recovery, ">") + "|" + ep.Context.Domain
		out = append(out, errorRecoveryCandidate{
			id:            signatureID(memory.PatternKindErrorRecovery, sig),
			errorType:     errorType,
			recoverySteps: recovery,
			context:       ep.Context.Domain,
			recovered:     recovered,
		})
	}
	return out
}

func (e *Extractor) upsertErrorRecovery(ctx context.Context, cand errorRecoveryCandidate) (bool, error) {
	p, isNew, err := e.getOrInit(ctx, cand.id, memory.PatternKindErrorRecovery)
	if err != nil {
		return false, err
	}
	if p.ErrorRecovery == nil {
		p.ErrorRecovery = &memory.ErrorRecoveryPattern{
			ErrorType: cand.errorType, RecoverySteps: cand.recoverySteps, Context: cand.context,
		}
	}
	er := p.ErrorRecovery
	successVal := 0.0
	if cand.recovered {
		successVal = 1.0
	}
	// ErrorRecoveryPattern carries no separate occurrence counter
	// (pattern.go's SampleSize() documents this and returns a constant 1
	// for the kind), so a fresh pattern's rate is seeded directly from its
	// first observation and subsequent ones blend in with a fixed
	// exponential weight rather than a sample-count-derived one.
	const emaWeight = 0.2
	if isNew {
		er.SuccessRate = successVal
	} else {
		er.SuccessRate = er.SuccessRate*(1-emaWeight) + successVal*emaWeight
	}

	return isNew, e.store.SavePattern(ctx, p)
}
