package config

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// ValidationError is a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found by Validate.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

func (errs ValidationErrors) Unwrap() error {
	return domain.ErrConfig
}

// Validate checks retrieval bounds and budgets. A non-nil result is fatal at startup.
func (c Config) Validate() error {
	errs := append(ValidationErrors(nil), c.parseErrors...)
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.SummaryMinTopK < 1 {
		add("SUMMARY_MIN_TOP_K", "must be >= 1, got %d", c.SummaryMinTopK)
	}
	if c.SummaryMaxTopK < 1 {
		add("SUMMARY_MAX_TOP_K", "must be >= 1, got %d", c.SummaryMaxTopK)
	}
	if c.SummaryMinTopK > c.SummaryMaxTopK {
		add("SUMMARY_MIN_TOP_K", "must not exceed SUMMARY_MAX_TOP_K (%d > %d)", c.SummaryMinTopK, c.SummaryMaxTopK)
	}
	if c.SummaryMultiplier < 1 {
		add("SUMMARY_MULTIPLIER", "must be >= 1, got %d", c.SummaryMultiplier)
	}
	if c.PrefetchMultiplier < 1 {
		add("PREFETCH_MULTIPLIER", "must be >= 1, got %d", c.PrefetchMultiplier)
	}
	if c.MetricsMaxFileList < 0 {
		add("METRICS_MAX_FILE_LIST", "must be >= 0, got %d", c.MetricsMaxFileList)
	}
	if c.RAGTopK < 1 {
		add("RAG_TOP_K", "must be >= 1, got %d", c.RAGTopK)
	}

	for field, words := range map[string]int{
		"STYLE_MAX_WORDS_MINIMAL":  c.StyleMaxWordsMinimal,
		"STYLE_MAX_WORDS_CONCISE":  c.StyleMaxWordsConcise,
		"STYLE_MAX_WORDS_DETAILED": c.StyleMaxWordsDetailed,
	} {
		if words < 1 {
			add(field, "must be >= 1, got %d", words)
		}
	}

	if c.RetrievalTimeout <= 0 {
		add("RETRIEVAL_TIMEOUT", "must be positive")
	}
	if c.EmbeddingTimeout <= 0 {
		add("EMBEDDING_TIMEOUT", "must be positive")
	}
	if c.RoutingDecisionTimeout <= 0 {
		add("ROUTING_DECISION_TIMEOUT", "must be positive")
	}
	if c.GenerationTimeout <= 0 {
		add("GENERATION_TIMEOUT", "must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		add("RETRY_MAX_ATTEMPTS", "must be >= 1, got %d", c.RetryMaxAttempts)
	}

	switch strings.ToLower(c.LLMProvider) {
	case "ollama":
	case "openai":
		if c.OpenAIAPIKey == "" {
			add("OPENAI_API_KEY", "is required when LLM_PROVIDER=openai")
		}
	default:
		add("LLM_PROVIDER", "unsupported provider %q", c.LLMProvider)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
