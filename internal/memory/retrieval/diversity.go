package retrieval

// mmrSelect is stage 4: greedily pick k results balancing relevance
// (Score) against diversity from what's already been picked, via
// Maximal Marginal Relevance:
//
//	mmr(d) = lambda * relevance(d) - (1-lambda) * max_sim(d, selected)
//
// similarity between two results is approximated by how much task context
// they share (domain, task type, tag overlap) since semantic.go's raw
// embeddings aren't threaded through this stage — a cheap proxy that still
// penalizes picking near-duplicate episodes back to back.
func mmrSelect(candidates []Result, k int, lambda float64) []Result {
	if k <= 0 || k >= len(candidates) {
		k = len(candidates)
	}
	if lambda <= 0 {
		lambda = 0.5
	}

	pool := make([]Result, len(candidates))
	copy(pool, candidates)
	maxScore, minScore := normalizationBounds(pool)

	selected := make([]Result, 0, k)
	for len(selected) < k && len(pool) > 0 {
		bestIdx := -1
		bestMMR := -1.0
		for i, cand := range pool {
			rel := normalize(cand.Score, minScore, maxScore)
			maxSim := 0.0
			for _, s := range selected {
				if sim := contextSimilarity(cand, s); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*rel - (1-lambda)*maxSim
			if bestIdx == -1 || mmr > bestMMR {
				bestIdx, bestMMR = i, mmr
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected
}

func normalizationBounds(results []Result) (max, min float64) {
	if len(results) == 0 {
		return 0, 0
	}
	max, min = results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score > max {
			max = r.Score
		}
		if r.Score < min {
			min = r.Score
		}
	}
	return max, min
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}

// contextSimilarity is a bounded [0,1] proxy for semantic similarity
// between two results, used only to drive diversity within a single
// retrieval call.
func contextSimilarity(a, b Result) float64 {
	score := 0.0
	weight := 0.0

	weight++
	if a.Episode.Context.Domain != "" && a.Episode.Context.Domain == b.Episode.Context.Domain {
		score++
	}
	weight++
	if a.Episode.TaskType == b.Episode.TaskType {
		score++
	}
	weight++
	score += jaccard(a.Episode.Tags, b.Episode.Tags)

	if weight == 0 {
		return 0
	}
	return score / weight
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter, union := 0, len(set)
	for _, t := range b {
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
