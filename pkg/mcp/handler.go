package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/service"
	"github.com/ericksa/policylens/internal/workers"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Worker interface {
	GetTools() []workers.ToolDef
	Execute(ctx context.Context, name string, input json.RawMessage) ([]byte, error)
}

type Handler struct {
	config  *config.Config
	log     *logger.Logger
	workers map[string]Worker
	server  *mcp.Server
	http    http.Handler
}

func NewHandler(cfg *config.Config, svc *service.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{
		config:  cfg,
		log:     log.Component("mcp"),
		workers: make(map[string]Worker),
	}

	// Review worker (always enabled)
	h.workers["review"] = workers.NewReviewWorker(svc, cfg.App.Auth.MCPUser)

	h.initMCPServer()
	return h
}

func (h *Handler) initMCPServer() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "policylens",
		Version: "1.0.0",
	}, nil)

	names := make([]string, 0, len(h.workers))
	for name := range h.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		worker := h.workers[name]
		for _, tool := range worker.GetTools() {
			toolName := fmt.Sprintf("%s_%s", name, tool.Name)
			schema := tool.InputSchema
			if schema == nil {
				schema = &jsonschema.Schema{Type: "object"}
			}
			mcp.AddTool(server, &mcp.Tool{
				Name:        toolName,
				Description: tool.Description,
				InputSchema: schema,
			}, h.wrapTool(toolName))
		}
	}

	h.server = server
	h.http = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return h.server }, nil)
}

func (h *Handler) wrapTool(toolName string) func(ctx context.Context, req *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, any, error) {
		inputBytes, _ := json.Marshal(input)
		start := time.Now()
		result, err := h.ExecuteTool(ctx, toolName, inputBytes)
		ev := h.log.Debug()
		if err != nil {
			ev = h.log.Warn().Err(err)
		}
		ev.Str("tool", toolName).Dur("duration", time.Since(start)).Msg("tool call")
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: err.Error()},
				},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(result)},
			},
		}, nil, nil
	}
}

// Tools lists the registered tool names.
func (h *Handler) Tools() []string {
	var out []string
	for name, worker := range h.workers {
		for _, tool := range worker.GetTools() {
			out = append(out, name+"_"+tool.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.http == nil {
		http.Error(w, "MCP server not initialized", http.StatusInternalServerError)
		return
	}
	h.http.ServeHTTP(w, r)
}

func (h *Handler) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) ([]byte, error) {
	for name, worker := range h.workers {
		if shortName, ok := strings.CutPrefix(toolName, name+"_"); ok && shortName != "" {
			return worker.Execute(ctx, shortName, args)
		}
	}
	return nil, &domain.NotFoundError{Kind: "tool", ID: toolName}
}
