package quality

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
)

// attestationSaturation is the pattern-attestation count past which the
// priority formula's third term saturates at 1.0 — a handful of
// extracted patterns already marks an episode as a well-attested source,
// so additional ones add no further retention value.
const attestationSaturation = 5.0

// Manager enforces a soft ceiling on the number of full (non-summarized)
// episodes the durable store retains, demoting the lowest-priority ones
// to their compact SalientFeatureSummary form under pressure.
type Manager struct {
	store      durable.Store
	maxFull    int
	demoteStep int
}

func NewManager(store durable.Store, maxFullEpisodes int) *Manager {
	if maxFullEpisodes <= 0 {
		maxFullEpisodes = 10000
	}
	return &Manager{store: store, maxFull: maxFullEpisodes, demoteStep: maxFullEpisodes / 20}
}

// priorityScore blends recency, reward, and corroboration by extracted
// patterns into a single [0,1]-ish retention priority: higher keeps the
// episode expanded longer.
//
//	priority = 0.5*recency + 0.3*clamp(reward/2, 0, 1)
//	         + 0.2*min(pattern_attestation_count, 5)/5
func priorityScore(ep *memory.Episode, now time.Time) float64 {
	recency := recencyScore(ep, now)

	reward := 0.0
	if ep.Reward != nil {
		reward = ep.Reward.Total / 2.0
		if reward < 0 {
			reward = 0
		}
		if reward > 1 {
			reward = 1
		}
	}

	attestation := math.Min(float64(len(ep.ExtractedPatternIDs)), attestationSaturation) / attestationSaturation

	return 0.5*recency + 0.3*reward + 0.2*attestation
}

// recencyScore decays exponentially with a 30-day half-life from the
// episode's end (or start, if still open).
func recencyScore(ep *memory.Episode, now time.Time) float64 {
	ts := ep.StartTime
	if ep.EndTime != nil {
		ts = *ep.EndTime
	}
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	const halfLife = 30 * 24 * time.Hour
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// Enforce lists every non-summarized episode not flagged low_quality (those
// are neither counted nor demoted) and, if the count exceeds
// the configured ceiling, demotes the lowest-priority excess (rounded up
// to demoteStep, to avoid re-scanning on every single admission) to a
// compact summary via ReplaceWithSummary. Relationships and the episode
// id are untouched; only the expanded step/reflection form is dropped.
func (m *Manager) Enforce(ctx context.Context, now time.Time) (int, error) {
	full := false
	episodes, err := m.store.ListEpisodes(ctx, durable.EpisodeFilter{LowQuality: &full})
	if err != nil {
		return 0, err
	}

	var expanded []*memory.Episode
	for _, ep := range episodes {
		if !ep.Summarized {
			expanded = append(expanded, ep)
		}
	}
	if len(expanded) <= m.maxFull {
		return 0, nil
	}

	sort.Slice(expanded, func(i, j int) bool {
		return priorityScore(expanded[i], now) < priorityScore(expanded[j], now)
	})

	toDemote := len(expanded) - m.maxFull
	if m.demoteStep > 0 && toDemote < m.demoteStep {
		toDemote = m.demoteStep
	}
	if toDemote > len(expanded) {
		toDemote = len(expanded)
	}

	demoted := 0
	for _, ep := range expanded[:toDemote] {
		summary := buildSummary(ep)
		if err := m.store.ReplaceWithSummary(ctx, ep.ID, summary); err != nil {
			return demoted, err
		}
		demoted++
	}
	return demoted, nil
}

// buildSummary distills an episode's salient features into a
// SalientFeatureSummary so it stays useful for retrieval prefiltering after
// demotion.
func buildSummary(ep *memory.Episode) memory.SalientFeatureSummary {
	if ep.Salient != nil {
		return *ep.Salient
	}

	tools := make([]string, 0, len(ep.Steps))
	seen := make(map[string]struct{})
	for _, s := range ep.Steps {
		if _, ok := seen[s.Tool]; ok {
			continue
		}
		seen[s.Tool] = struct{}{}
		tools = append(tools, s.Tool)
	}

	outcomeKind := memory.OutcomeKind("")
	if ep.Outcome != nil {
		outcomeKind = ep.Outcome.Kind
	}

	return memory.SalientFeatureSummary{
		TaskKeywords: tagWords(ep.TaskDescription),
		ToolsUsed:    tools,
		OutcomeKind:  outcomeKind,
	}
}

func tagWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	if len(words) > 8 {
		words = words[:8]
	}
	return words
}
