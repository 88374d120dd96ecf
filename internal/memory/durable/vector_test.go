package durable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeVectorRoundTrips(t *testing.T) {
	v := []float32{0.1, -2.5, 3.0, 0}
	blob := encodeVector(v)
	assert.Len(t, blob, len(v)*4)
	assert.Equal(t, v, decodeVector(blob))
}

func TestDecodeVectorRejectsMisalignedBlob(t *testing.T) {
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestCosineSimilarityZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestTopKByCosineOrdersDescendingAndRespectsK(t *testing.T) {
	query := []float32{1, 0}
	candidates := map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
		"c": {0.9, 0.1},
	}
	scored := topKByCosine(query, candidates, 2)
	assert.Len(t, scored, 2)
	assert.Equal(t, "a", scored[0].id)
	assert.Equal(t, "c", scored[1].id)
}

func TestTopKByCosineZeroKReturnsAll(t *testing.T) {
	candidates := map[string][]float32{"a": {1, 0}, "b": {0, 1}}
	scored := topKByCosine([]float32{1, 0}, candidates, 0)
	assert.Len(t, scored, 2)
}

func TestDimensionTableMapsKnownDimensionsAndFallsBackOtherwise(t *testing.T) {
	assert.Equal(t, "embeddings_384", dimensionTable(384))
	assert.Equal(t, "embeddings_1024", dimensionTable(1024))
	assert.Equal(t, "embeddings_1536", dimensionTable(1536))
	assert.Equal(t, "embeddings_3072", dimensionTable(3072))
	assert.Equal(t, "embeddings_other", dimensionTable(768))
}
