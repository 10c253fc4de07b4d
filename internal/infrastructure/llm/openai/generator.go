package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/docqa-orchestrator/internal/infrastructure/resilience"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator talks to any OpenAI-compatible chat completions endpoint.
// SDK retries are disabled; retry policy belongs to the caller.
type Generator struct {
	client openai.Client
	model  string
}

func NewGenerator(cfg Config) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (g *Generator) NeedsRetrieval(ctx context.Context, queryText string) (bool, error) {
	completion, err := g.client.Chat.Completions.New(ctx, g.params(prompt.Routing(queryText)))
	if err != nil {
		return false, wrapTemporaryIfNeeded("openai.routing", err)
	}
	if len(completion.Choices) == 0 {
		return false, fmt.Errorf("openai routing: empty choices")
	}
	return prompt.ParseRoutingDecision(completion.Choices[0].Message.Content)
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest, sink ports.TokenSink) error {
	stream := g.client.Chat.Completions.NewStreaming(ctx, g.params(prompt.Answer(req)))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := sink(content); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai generate stream: %w", err)
	}
	return nil
}

func (g *Generator) params(text string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(text),
		},
	}
}

func apiStatus(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	return resilience.MarkTemporary(operation, err, func(err error) resilience.ErrorClassification {
		return resilience.ClassifyTransport(err, apiStatus)
	})
}
