package memory

import (
	"strings"
	"time"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

const maxTagLength = 100

// NormalizeTag lowercases and trims a tag string. It does not validate
// charset or length — callers that need the full invariant should call
// ValidateTag, which normalizes as a side effect and also checks shape.
func NormalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateTag normalizes raw and checks it against tag invariants:
// non-empty, <=100 chars, restricted to [a-z0-9_-].
func ValidateTag(raw string) error {
	t := NormalizeTag(raw)
	if t == "" || len(t) > maxTagLength {
		return memerrors.ErrInvalidInput
	}
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return memerrors.ErrInvalidInput
		}
	}
	return nil
}

// NormalizeTags normalizes and de-duplicates a raw tag slice, validating
// each entry. Order of first occurrence is preserved.
func NormalizeTags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if err := ValidateTag(r); err != nil {
			return nil, err
		}
		t := NormalizeTag(r)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// TagMode selects how a multi-tag filter combines: every tag must match, or
// any one of them.
type TagMode string

const (
	TagModeAll TagMode = "all"
	TagModeAny TagMode = "any"
)

// TagMetadata is the first-class indexable tag entity from usage count
// plus first/last-used timestamps, maintained transactionally with the
// episode<->tag join table.
type TagMetadata struct {
	Tag        string    `json:"tag"`
	UsageCount int64     `json:"usage_count"`
	FirstUsed  time.Time `json:"first_used"`
	LastUsed   time.Time `json:"last_used"`
}
