package memory

import (
	"time"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// RelationshipKind names the directed edge kinds between episodes.
type RelationshipKind string

const (
	RelationshipParentChild RelationshipKind = "parent_child"
	RelationshipDependsOn   RelationshipKind = "depends_on"
	RelationshipFollows     RelationshipKind = "follows"
	RelationshipRelatedTo   RelationshipKind = "related_to"
	RelationshipBlocks      RelationshipKind = "blocks"
	RelationshipDuplicates  RelationshipKind = "duplicates"
	RelationshipReferences  RelationshipKind = "references"
)

// relationshipKindStrings is the total bijection table backing
// RelationshipKind<->string conversion.
var relationshipKindStrings = map[RelationshipKind]string{
	RelationshipParentChild: "parent_child",
	RelationshipDependsOn:   "depends_on",
	RelationshipFollows:     "follows",
	RelationshipRelatedTo:   "related_to",
	RelationshipBlocks:      "blocks",
	RelationshipDuplicates:  "duplicates",
	RelationshipReferences:  "references",
}

var stringsToRelationshipKind = func() map[string]RelationshipKind {
	m := make(map[string]RelationshipKind, len(relationshipKindStrings))
	for k, v := range relationshipKindStrings {
		m[v] = k
	}
	return m
}()

// String returns the canonical string form of k.
func (k RelationshipKind) String() string {
	if s, ok := relationshipKindStrings[k]; ok {
		return s
	}
	return string(k)
}

// ParseRelationshipKind is the inverse of String, completing the total
// bijection requires.
func ParseRelationshipKind(s string) (RelationshipKind, error) {
	if k, ok := stringsToRelationshipKind[s]; ok {
		return k, nil
	}
	return "", memerrors.ErrInvalidInput
}

// IsDirectional reports whether the kind carries a distinct "from->to"
// meaning whose Inverse() swaps endpoints while preserving the kind.
// related_to and duplicates are symmetric by nature, so they are their own
// inverse with endpoints swapped but produce an equal relationship either
// way; parent_child, depends_on, follows, blocks, references read
// differently in each direction.
func (k RelationshipKind) IsDirectional() bool {
	switch k {
	case RelationshipParentChild, RelationshipDependsOn, RelationshipFollows,
		RelationshipBlocks, RelationshipReferences:
		return true
	default:
		return false
	}
}

// Relationship is a directed edge between two distinct episode ids.
type Relationship struct {
	ID            RelationshipID    `json:"id"`
	FromEpisodeID EpisodeID         `json:"from_episode_id"`
	ToEpisodeID   EpisodeID         `json:"to_episode_id"`
	Kind          RelationshipKind  `json:"kind"`
	Reason        string            `json:"reason,omitempty"`
	CreatedBy     string            `json:"created_by,omitempty"`
	Priority      int               `json:"priority,omitempty"`
	Custom        map[string]string `json:"custom,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Validate checks the self-relationship and priority-range invariants.
func (r *Relationship) Validate() error {
	if r.FromEpisodeID == r.ToEpisodeID {
		return memerrors.ErrInvalidInput
	}
	if r.Priority != 0 && (r.Priority < 1 || r.Priority > 10) {
		return memerrors.ErrInvalidInput
	}
	if _, ok := relationshipKindStrings[r.Kind]; !ok {
		return memerrors.ErrInvalidInput
	}
	return nil
}

// Inverse returns the relationship viewed from the opposite direction: the
// endpoints swap, the kind is preserved. Applying Inverse twice yields a
// relationship semantically equal to the original, including for the
// non-directional kinds where the swap is a no-op on meaning even though
// the struct's From/To fields swap.
func (r Relationship) Inverse() Relationship {
	inv := r
	inv.FromEpisodeID, inv.ToEpisodeID = r.ToEpisodeID, r.FromEpisodeID
	return inv
}

// Direction selects which side of a relationship list_relationships
// filters on.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)
