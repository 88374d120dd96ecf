package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

func TestNormalizeTagLowercasesAndTrims(t *testing.T) {
	assert.Equal(t, "go-lang", NormalizeTag("  Go-Lang  "))
}

func TestValidateTagRejectsBadShapes(t *testing.T) {
	cases := []string{"", "   ", "has space", "Ünïcödé", string(make([]byte, 101))}
	for _, c := range cases {
		assert.ErrorIs(t, ValidateTag(c), memerrors.ErrInvalidInput, "input %q should be rejected", c)
	}
}

func TestValidateTagAcceptsRestrictedCharset(t *testing.T) {
	assert.NoError(t, ValidateTag("go_lang-101"))
}

func TestNormalizeTagsDedupesAndPreservesFirstOccurrenceOrder(t *testing.T) {
	out, err := NormalizeTags([]string{"Go", "python", "GO", "rust", "Python"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python", "rust"}, out)
}

func TestNormalizeTagsIsIdempotent(t *testing.T) {
	once, err := NormalizeTags([]string{"Go", "python", "go"})
	require.NoError(t, err)
	twice, err := NormalizeTags(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeTagsPropagatesValidationError(t *testing.T) {
	_, err := NormalizeTags([]string{"fine", "not fine"})
	assert.ErrorIs(t, err, memerrors.ErrInvalidInput)
}
