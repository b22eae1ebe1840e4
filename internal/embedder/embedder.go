// Package embedder implements the Embedder (C6): a small fixed-dimension
// text encoder exposed over the same OpenAI-compatible wire protocol C5
// uses for generation, since the retrieval pack carries no standalone
// embedding-model runtime.
//
// Grounded on the teacher's internal/ai/client.go openai-go wiring,
// generalized from chat completions to the embeddings endpoint.
package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"mailengine/internal/apperr"
)

// defaultDim is the dimensionality reported before any Encode call has
// succeeded.
const defaultDim = 384

// Embedder encodes text into fixed-dimension vectors via an
// OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client  openai.Client
	modelID string

	mu  sync.Mutex
	dim int
}

// New builds an Embedder bound to modelID at endpoint.
func New(modelID, endpoint, apiKey string) *Embedder {
	if apiKey == "" {
		apiKey = "local"
	}
	return &Embedder{
		client:  openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(endpoint)),
		modelID: modelID,
		dim:     defaultDim,
	}
}

// ModelID is the identifier stored alongside every vector this Embedder
// produces, per spec §4.6.
func (e *Embedder) ModelID() string {
	return e.modelID
}

// Dim returns the vector length of the most recent successful Encode call,
// or defaultDim if none has succeeded yet.
func (e *Embedder) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Encode returns a fixed-dimension vector for text.
func (e *Embedder) Encode(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.modelID,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrModelUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", apperr.ErrModelUnavailable)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	e.mu.Lock()
	e.dim = len(vec)
	e.mu.Unlock()

	return vec, nil
}

// ComposeText builds the embedding input text per spec §4.6: subject, from,
// and a truncated body, one per line.
func ComposeText(subject, from, body string, bodyTruncateRunes int) string {
	if bodyTruncateRunes > 0 {
		runes := []rune(body)
		if len(runes) > bodyTruncateRunes {
			body = string(runes[:bodyTruncateRunes])
		}
	}
	return subject + "\n" + from + "\n" + body
}
