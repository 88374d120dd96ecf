// Package extraction turns completed episodes into the four recurring
// regularity kinds: tool sequences, decision points, error recovery
// sequences, and context clusters. Tool sequence, decision point and
// context pattern statistics are incremental-mean updates, so they converge
// to the same aggregate regardless of which episode is processed first.
// Error recovery success rates are an exponential moving average (weight
// 0.2), so their value depends on the order observations arrive in.
package extraction

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// Config tunes the extractor's promotion thresholds.
type Config struct {
	MinSupport           int
	SuccessRateThreshold float64
	MinWindow            int
	MaxWindow            int
	MinClusterSize       int
}

// DefaultConfig returns the extractor's out-of-the-box thresholds.
func DefaultConfig() Config {
	return Config{MinSupport: 3, SuccessRateThreshold: 0.7, MinWindow: 2, MaxWindow: 5, MinClusterSize: 3}
}

// Extractor incrementally maintains patterns in the durable store from
// completed episodes.
type Extractor struct {
	store durable.Store
	cfg   Config
}

func New(store durable.Store, cfg Config) *Extractor {
	return &Extractor{store: store, cfg: cfg}
}

// ExtractFromEpisode runs all four extraction kinds against one completed
// episode, upserting pattern statistics and returning the ids of patterns
// first attested by this call (used as the reward formula's
// new_pattern_count input).
func (e *Extractor) ExtractFromEpisode(ctx context.Context, ep *memory.Episode) ([]memory.PatternID, error) {
	if !ep.IsComplete() {
		return nil, nil
	}
	var newIDs []memory.PatternID

	for _, cand := range toolSequenceCandidates(ep, e.cfg) {
		isNew, err := e.upsertToolSequence(ctx, cand)
		if err != nil {
			return nil, err
		}
		if isNew {
			newIDs = append(newIDs, cand.id)
		}
	}

	for _, cand := range decisionPointCandidates(ep) {
		isNew, err := e.upsertDecisionPoint(ctx, cand)
		if err != nil {
			return nil, err
		}
		if isNew {
			newIDs = append(newIDs, cand.id)
		}
	}

	for _, cand := range errorRecoveryCandidates(ep) {
		isNew, err := e.upsertErrorRecovery(ctx, cand)
		if err != nil {
			return nil, err
		}
		if isNew {
			newIDs = append(newIDs, cand.id)
		}
	}

	if cand, ok := contextPatternCandidate(ep); ok {
		isNew, err := e.upsertContextPattern(ctx, cand, ep.ID)
		if err != nil {
			return nil, err
		}
		if isNew {
			newIDs = append(newIDs, cand.id)
		}
	}

	return newIDs, nil
}

// CandidateIDs collects the deterministic pattern ids every extraction
// kind would touch for ep, without writing anything. CompleteEpisode uses
// this to learn new_pattern_count for the reward formula's learning_bonus
// before the actual upserts run — the two must stay decoupled so
// an episode's own completion never double-applies its own extraction.
func CandidateIDs(ep *memory.Episode, cfg Config) []memory.PatternID {
	var ids []memory.PatternID
	for _, c := range toolSequenceCandidates(ep, cfg) {
		ids = append(ids, c.id)
	}
	for _, c := range decisionPointCandidates(ep) {
		ids = append(ids, c.id)
	}
	for _, c := range errorRecoveryCandidates(ep) {
		ids = append(ids, c.id)
	}
	if c, ok := contextPatternCandidate(ep); ok {
		ids = append(ids, c.id)
	}
	return ids
}

// toolSequenceWouldPromote reports whether folding one more observation
// (n existing occurrences, sr existing success rate, this candidate's
// outcome) into a tool sequence pattern would cross it from below the
// min_support/min_success thresholds to at or above them. A pattern that
// is already promoted returns false here — it stays counted as "new"
// exactly once, at the observation that first promotes it.
func (e *Extractor) toolSequenceWouldPromote(n int, sr float64, success bool) bool {
	wasPromoted := n >= e.cfg.MinSupport && sr >= e.cfg.SuccessRateThreshold
	successVal := 0.0
	if success {
		successVal = 1.0
	}
	newSR := (sr*float64(n) + successVal) / float64(n+1)
	return !wasPromoted && n+1 >= e.cfg.MinSupport && newSR >= e.cfg.SuccessRateThreshold
}

// contextWouldPromote is toolSequenceWouldPromote's analogue for context
// patterns, gating on MinClusterSize (the "dense cluster" requirement)
// instead of MinSupport.
func (e *Extractor) contextWouldPromote(n int, sr float64, success bool) bool {
	wasPromoted := n >= e.cfg.MinClusterSize && sr >= e.cfg.SuccessRateThreshold
	successVal := 0.0
	if success {
		successVal = 1.0
	}
	newSR := (sr*float64(n) + successVal) / float64(n+1)
	return !wasPromoted && n+1 >= e.cfg.MinClusterSize && newSR >= e.cfg.SuccessRateThreshold
}

// PatternVisible reports whether p clears this extractor's promotion
// thresholds for its kind and should be surfaced by queries. Tool
// sequence and context patterns accumulate silently below threshold;
// decision point and error recovery patterns, which the extraction rules
// name no rejection threshold for, are visible as soon as they exist.
func (e *Extractor) PatternVisible(p *memory.Pattern) bool {
	switch p.Kind {
	case memory.PatternKindToolSequence:
		return p.ToolSequence != nil &&
			p.ToolSequence.Occurrences >= e.cfg.MinSupport &&
			p.ToolSequence.SuccessRate >= e.cfg.SuccessRateThreshold
	case memory.PatternKindContext:
		return p.Context != nil &&
			len(p.Context.Evidence) >= e.cfg.MinClusterSize &&
			p.Context.SuccessRate >= e.cfg.SuccessRateThreshold
	default:
		return true
	}
}

// CountNew reports how many of ep's candidates would newly cross into a
// visible pattern if extraction ran now — the new_pattern_count input to
// ComputeReward. Tool sequence and context candidates are rejected below
// their thresholds (they still accumulate once actually extracted, just
// without counting toward this call's reward). The lookups are
// independent reads against distinct ids, so they run concurrently
// through an errgroup rather than one at a time.
func (e *Extractor) CountNew(ctx context.Context, ep *memory.Episode) (int, error) {
	type job struct {
		id    memory.PatternID
		would func(existing *memory.Pattern, found bool) bool
	}

	var jobs []job
	for _, c := range toolSequenceCandidates(ep, e.cfg) {
		c := c
		jobs = append(jobs, job{id: c.id, would: func(existing *memory.Pattern, found bool) bool {
			n, sr := 0, 0.0
			if found && existing.ToolSequence != nil {
				n, sr = existing.ToolSequence.Occurrences, existing.ToolSequence.SuccessRate
			}
			return e.toolSequenceWouldPromote(n, sr, c.success)
		}})
	}
	for _, c := range decisionPointCandidates(ep) {
		jobs = append(jobs, job{id: c.id, would: func(existing *memory.Pattern, found bool) bool {
			return !found
		}})
	}
	for _, c := range errorRecoveryCandidates(ep) {
		jobs = append(jobs, job{id: c.id, would: func(existing *memory.Pattern, found bool) bool {
			return !found
		}})
	}
	if c, ok := contextPatternCandidate(ep); ok {
		jobs = append(jobs, job{id: c.id, would: func(existing *memory.Pattern, found bool) bool {
			n, sr := 0, 0.0
			if found && existing.Context != nil {
				n, sr = len(existing.Context.Evidence), existing.Context.SuccessRate
			}
			return e.contextWouldPromote(n, sr, c.success)
		}})
	}

	seen := make(map[memory.PatternID]struct{})
	var unique []job
	for _, j := range jobs {
		if _, dup := seen[j.id]; dup {
			continue
		}
		seen[j.id] = struct{}{}
		unique = append(unique, j)
	}

	var mu sync.Mutex
	count := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range unique {
		j := j
		g.Go(func() error {
			existing, err := e.store.GetPattern(gctx, j.id)
			found := err == nil
			if err != nil && !memerrors.Is(err, memerrors.ErrNotFound) {
				return err
			}
			if j.would(existing, found) {
				mu.Lock()
				count++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return count, nil
}

// signatureID deterministically derives a pattern id from a stable
// signature string so repeated extraction of the same regularity always
// resolves to the same pattern row instead of creating duplicates.
func signatureID(kind memory.PatternKind, signature string) memory.PatternID {
	return memory.NewDeterministicID(string(kind) + "|" + signature)
}

func (e *Extractor) getOrInit(ctx context.Context, id memory.PatternID, kind memory.PatternKind) (*memory.Pattern, bool, error) {
	existing, err := e.store.GetPattern(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !memerrors.Is(err, memerrors.ErrNotFound) {
		return nil, false, err
	}
	return &memory.Pattern{
		ID:   id,
		Kind: kind,
		Effectiveness: memory.PatternEffectiveness{
			CreatedAt: time.Now(),
		},
	}, true, nil
}
