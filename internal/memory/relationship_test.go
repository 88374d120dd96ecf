package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

func TestRelationshipValidateRejectsSelfRelationship(t *testing.T) {
	id := NewID()
	r := Relationship{ID: NewID(), FromEpisodeID: id, ToEpisodeID: id, Kind: RelationshipRelatedTo}
	assert.ErrorIs(t, r.Validate(), memerrors.ErrInvalidInput)
}

func TestRelationshipValidateRejectsOutOfRangePriority(t *testing.T) {
	r := Relationship{ID: NewID(), FromEpisodeID: NewID(), ToEpisodeID: NewID(), Kind: RelationshipFollows, Priority: 11}
	assert.ErrorIs(t, r.Validate(), memerrors.ErrInvalidInput)
}

func TestRelationshipValidateRejectsUnknownKind(t *testing.T) {
	r := Relationship{ID: NewID(), FromEpisodeID: NewID(), ToEpisodeID: NewID(), Kind: RelationshipKind("bogus")}
	assert.ErrorIs(t, r.Validate(), memerrors.ErrInvalidInput)
}

func TestRelationshipInverseSwapsEndpointsPreservesKind(t *testing.T) {
	from, to := NewID(), NewID()
	r := Relationship{
		ID: NewID(), FromEpisodeID: from, ToEpisodeID: to, Kind: RelationshipDependsOn,
		Reason: "needs output", CreatedAt: time.Now(),
	}
	inv := r.Inverse()

	assert.Equal(t, to, inv.FromEpisodeID)
	assert.Equal(t, from, inv.ToEpisodeID)
	assert.Equal(t, r.Kind, inv.Kind)
	assert.Equal(t, r.Reason, inv.Reason)
}

func TestRelationshipInverseTwiceReturnsToOriginal(t *testing.T) {
	r := Relationship{ID: NewID(), FromEpisodeID: NewID(), ToEpisodeID: NewID(), Kind: RelationshipBlocks}
	assert.Equal(t, r, r.Inverse().Inverse())
}

func TestRelationshipKindStringRoundTrips(t *testing.T) {
	for k := range relationshipKindStrings {
		parsed, err := ParseRelationshipKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestParseRelationshipKindRejectsUnknown(t *testing.T) {
	_, err := ParseRelationshipKind("not_a_kind")
	assert.ErrorIs(t, err, memerrors.ErrInvalidInput)
}

func TestRelationshipKindDirectionality(t *testing.T) {
	assert.True(t, RelationshipParentChild.IsDirectional())
	assert.True(t, RelationshipDependsOn.IsDirectional())
	assert.False(t, RelationshipRelatedTo.IsDirectional())
	assert.False(t, RelationshipDuplicates.IsDirectional())
}
