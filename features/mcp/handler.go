package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/retrieval"
)

const ToolSearchQuestions = "search_questions"

type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]question.SearchResult, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query     string   `json:"query"`
	Threshold *float32 `json:"threshold,omitempty"`
	Limit     *int     `json:"limit,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var searchTool = Tool{
	Name: ToolSearchQuestions,
	Description: `Semantic search over the indexed question bank. Returns distinct questions ranked by cosine similarity, best first.

[Threshold] minimum similarity in [0, 1]. Default 0.75; lower it for loosely phrased queries.
[Limit] maximum number of questions. Default 10.

USAGE EXAMPLE:
search_questions(query="role of ATP in muscle contraction", threshold=0.6, limit=5)`,
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]string{
				"type":        "string",
				"description": "Text to search for",
			},
			"threshold": map[string]interface{}{
				"type":        "number",
				"description": "Minimum similarity score",
				"minimum":     0.0,
				"maximum":     1.0,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max questions to return (default 10)",
				"minimum":     1,
			},
		},
		"required": []string{"query"},
	},
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "premed-rag-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: []Tool{searchTool}}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	if params.Name != ToolSearchQuestions {
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	var args SearchArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Query is required")
		return &resp
	}

	results, err := h.retriever.Search(ctx, args.Query, retrieval.SearchOptions{Threshold: args.Threshold, Limit: args.Limit})
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		if errors.Is(err, question.ErrInvalidInput) {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, err.Error())
			return &resp
		}
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: ToolResult{
				Content: []ToolContent{{Type: "text", Text: "Search is temporarily unavailable."}},
				IsError: true,
			},
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearchQuestions, "result_count", len(results))
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: formatResults(results)}},
		},
	}
}

func formatResults(results []question.SearchResult) string {
	if len(results) == 0 {
		return "No matching questions found."
	}
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.2f)\nID: %s\n", i+1, res.Score, res.ID)
		body, err := json.MarshalIndent(res.Question, "", "  ")
		if err != nil {
			body = []byte(fmt.Sprint(res.Question))
		}
		fmt.Fprintf(&b, "Question:\n%s\n---\n", body)
	}
	return b.String()
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		h.writeError(w, req.ID, ErrInvalidRequest, "Invalid request")
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode mcp response", "error", err)
	}
}

// writeError answers 200: JSON-RPC clients read the error from the body.
func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(makeErrorResponse(id, code, message)); err != nil {
		slog.Error("failed to encode mcp error", "error", err)
	}
}
