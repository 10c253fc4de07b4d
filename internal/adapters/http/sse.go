package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/usecase"
)

// eventStream writes server-sent events. Headers are sent with the first event so that
// failures before any output can still be reported as a plain JSON error.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) Started() bool {
	return s.started
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

func (s *eventStream) Token(chunk string) error {
	return s.send("token", chunk)
}

type streamDone struct {
	Sources []domain.Source        `json:"sources"`
	Metrics domain.ResponseMetrics `json:"metrics"`
}

func (s *eventStream) Done(answer *domain.Answer) error {
	payload, err := json.Marshal(streamDone{Sources: answer.Sources, Metrics: answer.Metrics})
	if err != nil {
		return err
	}
	return s.send("done", string(payload))
}

type streamError struct {
	Error   string                  `json:"error"`
	Marker  string                  `json:"marker"`
	Metrics *domain.ResponseMetrics `json:"metrics,omitempty"`
}

func (s *eventStream) Error(cause error, partial *domain.Answer) error {
	event := streamError{
		Error:  cause.Error(),
		Marker: strings.TrimSpace(usecase.GenerationErrorMarker),
	}
	if partial != nil {
		event.Metrics = &partial.Metrics
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.send("error", string(payload))
}

// send emits one event; every line of data becomes its own data: field.
func (s *eventStream) send(event, data string) error {
	s.start()

	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\n")
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
