package embedding

import (
	"context"
	"fmt"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

type DenseEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type TokenEmbedder interface {
	EmbedTokens(ctx context.Context, tokens []string) ([][]float32, error)
}

// HybridEmbedder combines a dense model, the hashed sparse encoder and optional
// per-token vectors into one set of query representations.
type HybridEmbedder struct {
	dense  DenseEmbedder
	tokens TokenEmbedder
}

func NewHybridEmbedder(dense DenseEmbedder, tokens TokenEmbedder) *HybridEmbedder {
	return &HybridEmbedder{dense: dense, tokens: tokens}
}

func (e *HybridEmbedder) Embed(ctx context.Context, text string) (domain.QueryVectors, error) {
	dense, err := e.dense.EmbedQuery(ctx, text)
	if err != nil {
		return domain.QueryVectors{}, fmt.Errorf("dense query embedding: %w", err)
	}
	if len(dense) == 0 {
		return domain.QueryVectors{}, fmt.Errorf("dense query embedding: empty vector")
	}

	vectors := domain.QueryVectors{
		Dense:  dense,
		Sparse: EncodeSparseQuery(text),
	}

	if e.tokens != nil {
		late, err := e.tokens.EmbedTokens(ctx, Tokenize(text))
		if err != nil {
			return domain.QueryVectors{}, fmt.Errorf("late interaction query embedding: %w", err)
		}
		vectors.LateInteraction = late
	}
	return vectors, nil
}
