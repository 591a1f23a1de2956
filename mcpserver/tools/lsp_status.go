package tools

import (
	"context"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type LSPStatusResponse struct {
	bridgepkg.Status
	RetryAfterMs int `json:"retry_after_ms,omitempty"`
}

// LSPStatusTool reports the session state, indexing progress ($/progress)
// and warm-up state.
func LSPStatusTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return readOnlyTool(bridgepkg.ToolStatus,
			"Show the rust-analyzer session state (stopped|initializing|indexing|ready|error), indexing progress, open documents and warm-up state. Useful to tell whether the server is still indexing."),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			bridge.EnsureConnected()
			status := bridge.Status()
			resp := LSPStatusResponse{Status: status}
			if status.State == "initializing" || status.State == "indexing" {
				resp.RetryAfterMs = 2000
			}
			logger.Debug("lsp_status: reported status", "state", status.State)
			return jsonResult(bridgepkg.ToolStatus, resp), nil
		}
}

func RegisterLSPStatusTool(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(LSPStatusTool(bridge))
}
