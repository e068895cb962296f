package engine

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aiops-tools/toolexec/internal/catalog"
	"github.com/aiops-tools/toolexec/internal/constants"
	"github.com/aiops-tools/toolexec/internal/maputil"
	"github.com/aiops-tools/toolexec/internal/protocol"
)

// traceIDKey is a reserved argument key, stripped before validation.
const traceIDKey = "trace_id"

// mcpCallerID marks invocations arriving over the MCP transport.
const mcpCallerID = "mcp"

// BuildServer creates an MCP server exposing every executable catalog
// tool. Draft and disabled tools are not registered; deprecated tools are
// registered with a deprecation note in their description.
func (e *Engine) BuildServer() *mcp.Server {
	info := e.catalog.Server()
	server := mcp.NewServer(&mcp.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, nil)

	for _, tool := range e.catalog.Tools() {
		switch tool.Status {
		case constants.ToolStatusDraft, constants.ToolStatusDisabled:
			continue
		}
		e.addTool(server, tool)
	}
	return server
}

func (e *Engine) addTool(server *mcp.Server, tool catalog.ToolConfig) {
	description := tool.Description
	if tool.Status == constants.ToolStatusDeprecated {
		description = strings.TrimSpace(description + " (deprecated)")
	}

	mcpTool := &mcp.Tool{
		Name:        tool.Name,
		Title:       tool.DisplayName,
		Description: description,
		InputSchema: func() any {
			if len(tool.InputSchema) == 0 {
				return nil
			}
			return tool.InputSchema
		}(),
		OutputSchema: func() any {
			if len(tool.OutputSchema) == 0 {
				return nil
			}
			return tool.OutputSchema
		}(),
	}

	mcp.AddTool(server, mcpTool, func(ctx context.Context, _ *mcp.CallToolRequest, input map[string]any) (*mcp.CallToolResult, protocol.ToolResponse, error) {
		traceID := ""
		if raw, ok := maputil.PopKey(input, traceIDKey); ok {
			traceID, _ = raw.(string)
		}
		resp := e.Invoke(ctx, InvokeRequest{
			Tool:      tool.Name,
			Version:   tool.Version,
			Arguments: input,
			CallerID:  mcpCallerID,
			TraceID:   traceID,
		})
		return nil, *resp, nil
	})
}
