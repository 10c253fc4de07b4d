package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

const (
	ServerName    = "docqa-orchestrator"
	ServerVersion = "1.0.0"

	askDocumentsTool = "ask_documents"
)

type Server struct {
	queries     ports.QueryService
	defaultTopK int
}

func New(queries ports.QueryService, defaultTopK int) *Server {
	if defaultTopK <= 0 {
		defaultTopK = domain.DefaultTopK
	}
	return &Server{queries: queries, defaultTopK: defaultTopK}
}

// MCPServer builds the tool server; cmd/mcp serves it over stdio.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false))
	srv.AddTool(askDocumentsToolDefinition(), s.handleAskDocuments)
	return srv
}

func askDocumentsToolDefinition() mcp.Tool {
	return mcp.NewTool(askDocumentsTool,
		mcp.WithDescription("Answer a question from the indexed documents. Returns the answer with its sources and routing metrics."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Requested number of context passages."),
		),
		mcp.WithString("style",
			mcp.Description("Answer style: minimal, concise or detailed."),
		),
		mcp.WithArray("selected_files",
			mcp.Description("Restrict retrieval to these file names."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("use_function_calling",
			mcp.Description("Let the model decide whether retrieval is needed."),
		),
	)
}

func (s *Server) handleAskDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := s.queryFromArguments(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	answer, err := s.queries.Answer(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "mcp_tool_failed", "tool", askDocumentsTool, "error", err)
		if answer == nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	payload, marshalErr := json.Marshal(answer)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal answer: %w", marshalErr)
	}
	result := mcp.NewToolResultText(string(payload))
	result.IsError = err != nil
	return result, nil
}

func (s *Server) queryFromArguments(args map[string]any) (domain.Query, error) {
	question, _ := args["question"].(string)
	query := domain.Query{
		Text:               strings.TrimSpace(question),
		RequestedTopK:      s.defaultTopK,
		UseFunctionCalling: true,
	}

	if raw, ok := args["top_k"]; ok {
		topK, ok := raw.(float64)
		if !ok || topK != float64(int(topK)) {
			return domain.Query{}, domain.Validationf("top_k must be an integer")
		}
		query.RequestedTopK = int(topK)
	}
	if raw, ok := args["style"]; ok {
		style, ok := raw.(string)
		if !ok {
			return domain.Query{}, domain.Validationf("style must be a string")
		}
		query.Style = domain.Style(style)
	}
	if raw, ok := args["selected_files"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return domain.Query{}, domain.Validationf("selected_files must be an array of strings")
		}
		for _, item := range items {
			file, ok := item.(string)
			if !ok {
				return domain.Query{}, domain.Validationf("selected_files must be an array of strings")
			}
			query.SelectedFiles = append(query.SelectedFiles, file)
		}
	}
	if raw, ok := args["use_function_calling"]; ok {
		flag, ok := raw.(bool)
		if !ok {
			return domain.Query{}, domain.Validationf("use_function_calling must be a boolean")
		}
		query.UseFunctionCalling = flag
	}

	if err := query.Validate(); err != nil {
		return domain.Query{}, err
	}
	return query, nil
}
