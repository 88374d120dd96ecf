package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Deterministic is a stdlib-only, offline Provider: it hashes overlapping
// token windows of the input into a fixed-width vector and L2-normalizes
// the result. It is not a semantic embedding in any real sense, but it is
// stable (same text always yields the same vector, so cosine similarity
// between two calls on identical input is always 1.0) and cheap, which is
// what tests and an embeddings-disabled deployment need from the default
// provider.
type Deterministic struct {
	dim   int
	model string
}

// NewDeterministic returns a Provider producing dim-wide vectors.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 384
	}
	return &Deterministic{dim: dim, model: "local-deterministic-v1"}
}

func (d *Deterministic) Dimension() int    { return d.dim }
func (d *Deterministic) ModelName() string { return d.model }

func (d *Deterministic) Generate(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(d.dim))
		sign := float32(1)
		if (sum>>1)%2 == 0 {
			sign = -1
		}
		vec[idx] += sign
	}
	normalize(vec)
	return vec, nil
}

func (d *Deterministic) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := d.Generate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func tokenize(text string) []string {
	var tokens []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = nil
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			cur = append(cur, c)
		case c >= 'A' && c <= 'Z':
			cur = append(cur, c+('a'-'A'))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
