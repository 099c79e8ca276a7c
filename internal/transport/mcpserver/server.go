// Package mcpserver exposes the orchestrator as a single MCP tool over
// stdio, so editor agents and MCP hosts can ask the knowledge base
// without speaking HTTP.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/service/rag"
	"github.com/askmill/askmill/pkg/log"
)

type Server struct {
	orchestrator *rag.Orchestrator
	mcpServer    *server.MCPServer
}

func NewServer(orchestrator *rag.Orchestrator) *Server {
	s := &Server{orchestrator: orchestrator}

	s.mcpServer = server.NewMCPServer(
		core.AskmillName,
		core.AskmillVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the knowledge base with source citations and a confidence score"),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to answer"),
			),
			mcp.WithNumber("top_k",
				mcp.Description("How many context fragments to retrieve (default 5, max 20)"),
			),
			mcp.WithString("conversation_id",
				mcp.Description("Optional conversation identifier for follow-up questions"),
			),
			mcp.WithString("model",
				mcp.Description("Optional model override for this request"),
			),
		),
		s.handleAsk,
	)

	return s
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.orchestrator.Ask(ctx, rag.AskRequest{
		Text:           question,
		TopK:           request.GetInt("top_k", 0),
		ConversationID: request.GetString("conversation_id", ""),
		ModelOverride:  request.GetString("model", ""),
	})
	if err != nil {
		// Tool failures are results, not protocol errors.
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError("failed to encode result"), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// Start serves MCP over stdio. It returns when stdin closes, which is
// how MCP hosts signal shutdown.
func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Msg("mcp server listening on stdio")
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
