package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func TestGenerateStreamsDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"The refund ", "window is 30 days."} {
			payload, _ := json.Marshal(map[string]any{
				"id":      "c1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test-model",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": part}}},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	gen := NewGenerator(Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	var b strings.Builder
	err := gen.Generate(context.Background(), domain.GenerationRequest{Question: "refund window?"}, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if b.String() != "The refund window is 30 days." {
		t.Fatalf("unexpected streamed text %q", b.String())
	}
}

func TestNeedsRetrievalParsesDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "c1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": `{"needs_retrieval": true}`},
			}},
		})
	}))
	defer server.Close()

	gen := NewGenerator(Config{APIKey: "k", BaseURL: server.URL, Model: "test-model"})
	needs, err := gen.NeedsRetrieval(context.Background(), "what does the contract say about renewals?")
	if err != nil {
		t.Fatalf("NeedsRetrieval() error = %v", err)
	}
	if !needs {
		t.Fatalf("expected retrieval to be needed")
	}
}

func TestNeedsRetrievalMarksOverloadTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	gen := NewGenerator(Config{APIKey: "k", BaseURL: server.URL, Model: "test-model"})
	_, err := gen.NeedsRetrieval(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
