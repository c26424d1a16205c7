// Package ollama embeds memory text with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/chronicle/pkg/embeddings"
)

const (
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultBaseURL        = "http://localhost:11434"
	DefaultTimeout        = 2 * time.Minute

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// Embedder calls Ollama's /api/embed endpoint.
type Embedder struct {
	baseURL    string
	model      string
	dimensions int
	keepAlive  string
	httpClient *http.Client
}

// EmbedderConfig holds configuration for the Ollama embedder.
type EmbedderConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Model defaults to DefaultEmbeddingModel.
	Model string

	// Dimensions, when set, is the vector size every response must have.
	Dimensions uint

	// KeepAlive is passed through to Ollama ("5m", "-1"). Empty leaves the
	// server default.
	KeepAlive string

	// Timeout bounds one request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

type embedRequest struct {
	Model     string `json:"model"`
	Input     string `json:"input"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewEmbedder creates a new embedder using Ollama's embedding API.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Embedder{
		baseURL:    baseURL,
		model:      model,
		dimensions: int(cfg.Dimensions),
		keepAlive:  cfg.KeepAlive,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", embeddings.ErrEmbedding)
	}

	body, err := json.Marshal(embedRequest{
		Model:     e.model,
		Input:     text,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", embeddings.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", embeddings.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", embeddings.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: ollama returned status %d for model %s: %s",
			embeddings.ErrEmbedding, resp.StatusCode, e.model, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", embeddings.ErrEmbedding, err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", embeddings.ErrEmbedding)
	}

	vec := out.Embeddings[0]
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, index expects %d",
			embeddings.ErrEmbedding, e.model, len(vec), e.dimensions)
	}
	return vec, nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
