package memory

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier shared by every entity in the engine:
// episodes, patterns, relationships, embeddings. It is a thin wrapper over
// uuid.UUID so call sites stay readable (EpisodeID, PatternID below) while
// sharing one underlying representation and String()/Parse() pair.
type ID = uuid.UUID

// EpisodeID identifies an Episode.
type EpisodeID = ID

// PatternID identifies a Pattern.
type PatternID = ID

// RelationshipID identifies a Relationship edge.
type RelationshipID = ID

// EmbeddingID identifies an EmbeddingRecord.
type EmbeddingID = ID

// NewID mints a fresh random 128-bit identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a canonical string form of an identifier.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// ZeroID is the nil identifier, used as a sentinel for "unset".
var ZeroID = uuid.Nil

// patternNamespace roots the deterministic pattern-id derivation so two
// unrelated callers hashing the same signature string never collide with
// identifiers minted elsewhere in the engine.
var patternNamespace = uuid.MustParse("6f2a9b7e-9d0e-4a3b-9c9a-6a3a8f9e6a2d")

// NewDeterministicID derives a stable id from signature: the same signature
// always yields the same id, which the pattern extractor relies on to
// resolve repeated observations of the same regularity to one row instead
// of minting a duplicate every time.
func NewDeterministicID(signature string) ID {
	return uuid.NewSHA1(patternNamespace, []byte(signature))
}
