package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/llm/prompt"
)

type Config struct {
	BaseURL        string
	GenModel       string
	EmbedModel     string
	LateModel      string
	MaxConcurrency int
	// RequestTimeout caps a whole call, body reads included. Zero leaves every
	// call bounded only by its context.
	RequestTimeout time.Duration
}

// Client is shared by all queries. Concurrent model calls are bounded by a
// weighted semaphore so a single local runtime is not oversubscribed.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	lateModel  string
	httpClient *http.Client
	slots      *semaphore.Weighted
}

func New(cfg Config) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		genModel:   cfg.GenModel,
		embedModel: cfg.EmbedModel,
		lateModel:  cfg.LateModel,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { c.slots.Release(1) }, nil
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": model,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, wrapTemporaryIfNeeded("ollama.embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d/%d", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

// EmbedQuery returns the dense query vector.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, e.client.embedModel, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTokens returns one vector per query token for late-interaction scoring.
// It returns nil when no late-interaction model is configured.
func (e *Embedder) EmbedTokens(ctx context.Context, tokens []string) ([][]float32, error) {
	if e.client.lateModel == "" || len(tokens) == 0 {
		return nil, nil
	}
	return e.embed(ctx, e.client.lateModel, tokens)
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) NeedsRetrieval(ctx context.Context, queryText string) (bool, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt.Routing(queryText),
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "routing"); err != nil {
		return false, wrapTemporaryIfNeeded("ollama.routing", err)
	}
	return prompt.ParseRoutingDecision(response.Response)
}

// Generate streams the answer as NDJSON chunks from /api/generate into sink.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest, sink ports.TokenSink) error {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt.Answer(req),
		"stream": true,
	}

	type chunk struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
		Error    string `json:"error"`
	}

	return g.client.postStream(ctx, "/api/generate", reqBody, "generate", func() any { return &chunk{} }, func(v any) (bool, error) {
		c := v.(*chunk)
		if c.Error != "" {
			return true, fmt.Errorf("ollama generate stream: %s", c.Error)
		}
		if c.Response != "" {
			if err := sink(c.Response); err != nil {
				return true, err
			}
		}
		return c.Done, nil
	})
}
