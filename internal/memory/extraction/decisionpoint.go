package extraction

import (
	"context"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
)

type decisionPointCandidate struct {
	id        memory.PatternID
	condition string
	action    string
	context   string
	success   bool
	duration  float64
}

// decisionPointCandidates treats every step after the first as a decision
// taken in light of the prior step's result: the condition is the prior
// step's result classification, the action is this step's tool+action pair.
func decisionPointCandidates(ep *memory.Episode) []decisionPointCandidate {
	var out []decisionPointCandidate
	for i := 1; i < len(ep.Steps); i++ {
		prev, cur := ep.Steps[i-1], ep.Steps[i]
		condition := "unknown"
		if prev.Result != nil {
			condition = string(prev.Result.Kind)
		}
		action := cur.Tool + ":" + cur.Action
		success := cur.Result != nil && cur.Result.Success()
		out = append(out, decisionPointCandidate{
			id:        signatureID(memory.PatternKindDecisionPoint, condition+"|"+action+"|"+ep.Context.Domain),
			condition: condition,
			action:    action,
			context:   ep.Context.Domain,
			success:   success,
			duration:  float64(cur.LatencyMS) / float64(time.Second/time.Millisecond),
		})
	}
	return out
}

func (e *Extractor) upsertDecisionPoint(ctx context.Context, cand decisionPointCandidate) (bool, error) {
	p, isNew, err := e.getOrInit(ctx, cand.id, memory.PatternKindDecisionPoint)
	if err != nil {
		return false, err
	}
	if p.DecisionPoint == nil {
		p.DecisionPoint = &memory.DecisionPointPattern{Condition: cand.condition, Action: cand.action, Context: cand.context}
	}
	dp := p.DecisionPoint
	n := dp.Outcome.TotalCount
	if cand.success {
		dp.Outcome.SuccessCount++
	} else {
		dp.Outcome.FailureCount++
	}
	dp.Outcome.AvgDurationSecs = (dp.Outcome.AvgDurationSecs*float64(n) + cand.duration) / float64(n+1)
	dp.Outcome.TotalCount = n + 1

	return isNew, e.store.SavePattern(ctx, p)
}
