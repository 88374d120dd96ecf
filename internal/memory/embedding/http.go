package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider implements Provider against an OpenAI-shaped embeddings
// endpoint, working against any base URL speaking the same request/response
// shape (LM Studio, Ollama's OpenAI-compatible route, vLLM, etc).
type HTTPProvider struct {
	baseURL string
	model   string
	client  *http.Client
	dim     int
}

// NewHTTPProvider returns a Provider that calls baseURL+"/embeddings".
// dim seeds Dimension() before the first real call updates it from the
// server's actual response.
func NewHTTPProvider(baseURL, model string, dim int, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if dim <= 0 {
		dim = 1536
	}
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		dim:     dim,
	}
}

type embeddingRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) Dimension() int    { return p.dim }
func (p *HTTPProvider) ModelName() string { return p.model }

func (p *HTTPProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding API returned no vectors")
	}
	p.dim = len(vecs[0])
	return vecs[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.call(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) > 0 {
		p.dim = len(vecs[0])
	}
	return vecs, nil
}

func (p *HTTPProvider) call(ctx context.Context, input any) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: input, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error: %s - %s", resp.Status, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	out := make([][]float32, len(embResp.Data))
	for _, d := range embResp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
