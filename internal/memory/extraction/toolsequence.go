package extraction

import (
	"context"
	"strings"

	"github.com/loreforge/episodic-memory/internal/memory"
)

type toolSequenceCandidate struct {
	id      memory.PatternID
	tools   []string
	context string
	success bool
	latency float64
}

// toolSequenceCandidates slides a window of MinWindow..MaxWindow contiguous
// steps across the episode, emitting one candidate per window position. A
// window "succeeds" when its final step's result was success.
func toolSequenceCandidates(ep *memory.Episode, cfg Config) []toolSequenceCandidate {
	var out []toolSequenceCandidate
	n := len(ep.Steps)
	for size := cfg.MinWindow; size <= cfg.MaxWindow; size++ {
		if size > n {
			break
		}
		for start := 0; start+size <= n; start++ {
			window := ep.Steps[start : start+size]
			tools := make([]string, size)
			var latencySum float64
			for i, s := range window {
				tools[i] = s.Tool
				latencySum += float64(s.LatencyMS)
			}
			last := window[size-1]
			success := last.Result != nil && last.Result.Success()
			sig := strings.Join(tools, ">") + "|" + ep.Context.Domain
			out = append(out, toolSequenceCandidate{
				id:      signatureID(memory.PatternKindToolSequence, sig),
				tools:   tools,
				context: ep.Context.Domain,
				success: success,
				latency: latencySum / float64(size),
			})
		}
	}
	return out
}

// upsertToolSequence incrementally folds one observation into the pattern's
// running success rate and average latency using the standard
// incremental-mean update, so the final value is independent of arrival
// order. Every observation is persisted regardless of where the running
// aggregate sits relative to the promotion thresholds — otherwise
// recurrence across episodes could never be counted — but the reported
// bool only fires on the single observation that first crosses the
// pattern from below MinSupport/SuccessRateThreshold to at or above them.
func (e *Extractor) upsertToolSequence(ctx context.Context, cand toolSequenceCandidate) (bool, error) {
	p, _, err := e.getOrInit(ctx, cand.id, memory.PatternKindToolSequence)
	if err != nil {
		return false, err
	}
	if p.ToolSequence == nil {
		p.ToolSequence = &memory.ToolSequencePattern{Tools: cand.tools, Context: cand.context}
	}
	ts := p.ToolSequence
	n := ts.Occurrences
	promoted := e.toolSequenceWouldPromote(n, ts.SuccessRate, cand.success)

	successVal := 0.0
	if cand.success {
		successVal = 1.0
	}
	ts.SuccessRate = (ts.SuccessRate*float64(n) + successVal) / float64(n+1)
	ts.AvgLatencyMS = (ts.AvgLatencyMS*float64(n) + cand.latency) / float64(n+1)
	ts.Occurrences = n + 1

	if err := e.store.SavePattern(ctx, p); err != nil {
		return false, err
	}
	return promoted, nil
}
