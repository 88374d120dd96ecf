package extraction

import (
	"context"
	"sort"
	"strings"

	"github.com/loreforge/episodic-memory/internal/memory"
)

type contextPatternCand struct {
	id       memory.PatternID
	features []string
	approach string
	success  bool
}

// contextPatternCandidate builds the context-features signature for one
// episode (language, framework, domain, and sorted tags) and proposes its
// reflection (falling back to the task description) as the recommended
// approach text for that context. Episodes with no distinguishing
// context at all are skipped — there is nothing to cluster on.
func contextPatternCandidate(ep *memory.Episode) (contextPatternCand, bool) {
	var features []string
	if ep.Context.Language != "" {
		features = append(features, "lang:"+ep.Context.Language)
	}
	if ep.Context.Framework != "" {
		features = append(features, "framework:"+ep.Context.Framework)
	}
	if ep.Context.Domain != "" {
		features = append(features, "domain:"+ep.Context.Domain)
	}
	tags := append([]string(nil), ep.Tags...)
	sort.Strings(tags)
	for _, t := range tags {
		features = append(features, "tag:"+t)
	}
	if len(features) == 0 {
		return contextPatternCand{}, false
	}

	approach := ep.Reflection
	if approach == "" {
		approach = ep.TaskDescription
	}
	success := ep.Outcome != nil && ep.Outcome.Kind == memory.OutcomeSuccess

	sig := strings.Join(features, ",")
	return contextPatternCand{
		id:       signatureID(memory.PatternKindContext, sig),
		features: features,
		approach: approach,
		success:  success,
	}, true
}

// upsertContextPattern folds one episode's evidence into the context
// cluster. As with tool sequences, every episode is folded in regardless
// of cluster size so far — a cluster can only be recognized as dense by
// continuing to count episodes below MinClusterSize — but the reported
// bool fires only on the episode that first makes the cluster dense with
// a high enough success rate.
func (e *Extractor) upsertContextPattern(ctx context.Context, cand contextPatternCand, episodeID memory.EpisodeID) (bool, error) {
	p, _, err := e.getOrInit(ctx, cand.id, memory.PatternKindContext)
	if err != nil {
		return false, err
	}
	if p.Context == nil {
		p.Context = &memory.ContextPattern{ContextFeatures: cand.features, RecommendedApproach: cand.approach}
	}
	cp := p.Context
	n := len(cp.Evidence)
	promoted := e.contextWouldPromote(n, cp.SuccessRate, cand.success)

	successVal := 0.0
	if cand.success {
		successVal = 1.0
	}
	cp.SuccessRate = (cp.SuccessRate*float64(n) + successVal) / float64(n+1)

	alreadyPresent := false
	for _, id := range cp.Evidence {
		if id == episodeID {
			alreadyPresent = true
			break
		}
	}
	if !alreadyPresent {
		cp.Evidence = append(cp.Evidence, episodeID)
	}
	if cand.success {
		cp.RecommendedApproach = cand.approach
	}

	if err := e.store.SavePattern(ctx, p); err != nil {
		return false, err
	}
	return promoted, nil
}
