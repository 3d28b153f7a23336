// Package embedding turns registry records into vectors and decides which
// records need (re)embedding.
package embedding

import (
	"context"
	"fmt"

	"github.com/Zeeeepa/ragforge-sub003/pkg/llm"
)

// Provider produces embedding vectors. EmbedBatch returns one vector per
// input, in input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// LLMProvider embeds through an OpenAI-compatible embeddings endpoint.
type LLMProvider struct {
	client llm.LLMClient
	model  string
}

// NewLLMProvider creates a provider using model on client. An empty model
// uses the client's configured embedding model.
func NewLLMProvider(client llm.LLMClient, model string) *LLMProvider {
	return &LLMProvider{client: client, model: model}
}

var _ Provider = (*LLMProvider)(nil)

func (p *LLMProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := p.client.CreateEmbeddings(ctx, texts, p.model)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (p *LLMProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vector, err := p.client.CreateEmbedding(ctx, text, p.model)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vector, nil
}
