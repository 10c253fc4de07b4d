package ollama

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from the Ollama API.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, body)
	}
	return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
}

func ollamaStatus(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

func classifyOllamaError(err error) resilience.ErrorClassification {
	return resilience.ClassifyTransport(err, ollamaStatus)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	return resilience.MarkTemporary(operation, err, classifyOllamaError)
}
