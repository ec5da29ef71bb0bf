package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfqa/internal/service"
)

type Handlers struct {
	qa *service.QAService
}

// New builds an MCP server exposing document ingestion and question
// answering as tools.
func New(qa *service.QAService, version string) *server.MCPServer {
	s := server.NewMCPServer("pdfqa", version, server.WithLogging())
	h := &Handlers{qa: qa}

	s.AddTool(
		mcp.NewTool(
			"ingest_document",
			mcp.WithDescription("Ingest a pdf, markdown or text document from a local path. Documents with identical content are skipped."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path of the document on this machine")),
		),
		h.IngestDocument,
	)
	s.AddTool(
		mcp.NewTool(
			"ask_question",
			mcp.WithDescription("Answer a question using the ingested documents."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
			mcp.WithString("session_id", mcp.Description("Optional chat session to record the exchange in")),
		),
		h.AskQuestion,
	)
	s.AddTool(
		mcp.NewTool(
			"document_status",
			mcp.WithDescription("Report whether documents have been ingested and how many chunks are stored."),
		),
		h.DocumentStatus,
	)
	return s
}

func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *Handlers) IngestDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path argument is required"), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open document: %v", err)), nil
	}
	defer f.Close()
	res, err := h.qa.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		logutil.GetLogger(ctx).Error("mcp ingest failed", zap.String("path", path), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	return jsonResult(res)
}

func (h *Handlers) AskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required"), nil
	}
	answer, err := h.qa.Ask(ctx, request.GetString("session_id", ""), question)
	if err != nil {
		logutil.GetLogger(ctx).Error("mcp ask failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (h *Handlers) DocumentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.qa.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(status)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to encode result"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
