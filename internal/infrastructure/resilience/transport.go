package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// StatusFunc extracts the upstream HTTP status from an adapter-specific error.
type StatusFunc func(err error) (int, bool)

func RetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyTransport classifies a failed call to an HTTP collaborator. Upstream statuses
// decide on their own; network errors and open breakers are retryable.
func ClassifyTransport(err error, status StatusFunc) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if status != nil {
		if code, ok := status(err); ok {
			if RetryableHTTPStatus(code) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
			return ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

// MarkTemporary wraps err as domain.ErrTemporary when classify calls it retryable,
// leaving the retry decision to the caller.
func MarkTemporary(operation string, err error, classify ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
