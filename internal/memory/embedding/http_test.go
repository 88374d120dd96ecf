package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, x := range v {
				inputs = append(inputs, x.(string))
			}
		}

		resp := embeddingResponse{Object: "list", Model: req.Model}
		for i := range inputs {
			resp.Data = append(resp.Data, struct {
				Object    string    `json:"object"`
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Object: "embedding", Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProviderGenerateReturnsServerVector(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	srv := embeddingServer(t, want)

	p := NewHTTPProvider(srv.URL, "test-model", 3, time.Second)
	got, err := p.Generate(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPProviderGenerateUpdatesDimensionFromResponse(t *testing.T) {
	want := []float32{1, 2, 3, 4, 5}
	srv := embeddingServer(t, want)

	p := NewHTTPProvider(srv.URL, "test-model", 1536, time.Second)
	assert.Equal(t, 1536, p.Dimension())

	_, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Dimension())
}

func TestHTTPProviderGenerateBatchReturnsOneVectorPerInput(t *testing.T) {
	want := []float32{0.5, 0.5}
	srv := embeddingServer(t, want)

	p := NewHTTPProvider(srv.URL, "test-model", 2, time.Second)
	vecs, err := p.GenerateBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Equal(t, want, v)
	}
}

func TestHTTPProviderGenerateSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-model", 3, time.Second)
	_, err := p.Generate(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewHTTPProviderDefaultsTimeoutAndDimension(t *testing.T) {
	p := NewHTTPProvider("http://example.invalid", "m", 0, 0)
	assert.Equal(t, 1536, p.Dimension())
	assert.Equal(t, "m", p.ModelName())
}
