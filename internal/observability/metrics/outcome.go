package metrics

import (
	"context"
	"errors"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

var outcomeKinds = []struct {
	kind  error
	label string
}{
	{domain.ErrValidation, "validation"},
	{domain.ErrJobNotFound, "not_found"},
	{domain.ErrEmbedding, "embedding"},
	{domain.ErrGeneration, "generation"},
	{domain.ErrRetrieval, "retrieval"},
	{domain.ErrTemporary, "temporary"},
}

// outcomeLabel maps an error to a bounded status label value.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	for _, k := range outcomeKinds {
		if domain.IsKind(err, k.kind) {
			return k.label
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
