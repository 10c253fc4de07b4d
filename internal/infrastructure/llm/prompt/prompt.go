package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// NoContextNote is rendered when no excerpt survives cleaning.
const NoContextNote = "No relevant content found in the documents."

// Answer builds the generation prompt. Requests without context get a direct-answer prompt.
func Answer(req domain.GenerationRequest) string {
	limit := ""
	if req.MaxWords > 0 {
		limit = fmt.Sprintf("- Keep the answer under %d words.\n", req.MaxWords)
	}

	if len(req.Context) == 0 {
		return fmt.Sprintf(`You are a document question-answering assistant.
Answer the user directly. If the message is a greeting, greet back briefly and offer help with the documents.
If answering requires document content you do not have, say so.
%s
Question:
%s
`, limit, req.Question)
	}

	return fmt.Sprintf(`You are a document question-answering assistant.
Answer the question only from the source documents below.
- Start with a direct answer, then support it with key information from the sources.
- Cite sources naturally by file name.
- If the sources are insufficient, say it directly.
%s
Question:
%s

Source documents:
%s
`, limit, req.Question, BuildContext(req.Context))
}

// Routing asks the model whether document retrieval is needed for the question.
func Routing(question string) string {
	return `You route questions for a document question-answering assistant.
Decide if answering needs content from the user's documents.
Small talk, arithmetic and general knowledge do not need documents.
Return strict JSON: {"needs_retrieval": true} or {"needs_retrieval": false}. No markdown, no extra keys.

Question:
` + question
}

// ParseRoutingDecision reads the routing JSON, tolerating text around the object.
func ParseRoutingDecision(raw string) (bool, error) {
	var decision struct {
		NeedsRetrieval *bool `json:"needs_retrieval"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &decision); err != nil {
		return false, fmt.Errorf("parse routing decision json: %w", err)
	}
	if decision.NeedsRetrieval == nil {
		return false, fmt.Errorf("parse routing decision json: missing needs_retrieval")
	}
	return *decision.NeedsRetrieval, nil
}

// BuildContext renders cleaned, de-duplicated excerpts as numbered source blocks.
func BuildContext(candidates []domain.Candidate) string {
	parts := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for idx, candidate := range candidates {
		text := strings.TrimSpace(candidate.Excerpt)
		if len(text) < 20 {
			continue
		}
		cleaned := CleanText(text)
		if len(cleaned) < 10 {
			continue
		}

		signature := cleaned
		if len(signature) > 100 {
			signature = signature[:100]
		}
		signature = strings.ToLower(strings.TrimSpace(signature))
		if _, dup := seen[signature]; dup {
			continue
		}
		seen[signature] = struct{}{}

		file := candidate.File
		if file == "" {
			file = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("Source %d (%s):\n%s", idx+1, file, cleaned))
	}

	if len(parts) == 0 {
		return NoContextNote
	}
	return strings.Join(parts, "\n\n")
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
