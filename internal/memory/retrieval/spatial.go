package retrieval

import "github.com/loreforge/episodic-memory/internal/memory"

// spatialFilter is stage 2: narrow by domain and by tag membership under
// the requested TagMode, applied in-memory over stage 1's already-small
// candidate set rather than as a second round trip.
func spatialFilter(candidates []*memory.Episode, q Query) []*memory.Episode {
	if q.Domain == "" && len(q.Tags) == 0 {
		return candidates
	}
	out := make([]*memory.Episode, 0, len(candidates))
	for _, ep := range candidates {
		if q.Domain != "" && ep.Context.Domain != q.Domain {
			continue
		}
		if len(q.Tags) > 0 && !matchesTags(ep.Tags, q.Tags, q.TagMode) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func matchesTags(have, want []string, mode memory.TagMode) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	if mode == memory.TagModeAny {
		for _, t := range want {
			if _, ok := set[t]; ok {
				return true
			}
		}
		return false
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
