// Package mcpserver exposes the bridge operations as MCP tools.
package mcpserver

import (
	"context"

	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const instructions = `Rust code intelligence backed by a long-running rust-analyzer.

Start with rust_analyzer_set_workspace on the directory holding Cargo.toml unless
rust_analyzer_get_workspace already reports it. Positions are 0-based. Right
after startup rust-analyzer is still indexing: queries wait and retry, and an
answer flagged empty may fill in later. lsp_status shows indexing progress.`

// Connector starts the configured workspace in the background.
type Connector interface {
	EnsureConnected()
}

// NewServer builds the MCP server with every tool registered. When conn is
// not nil, the initialize handshake kicks off auto-connect so the first tool
// call finds a warm server.
func NewServer(name, version string, bridge interfaces.BridgeInterface, conn Connector) *server.MCPServer {
	hooks := &server.Hooks{}
	if conn != nil {
		hooks.AddAfterInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest, result *mcp.InitializeResult) {
			logger.Info("MCP client initialized", "client", message.Params.ClientInfo.Name)
			conn.EnsureConnected()
		})
	}
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Warn("MCP request failed", "method", string(method), "error", err)
	})

	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
	)
	RegisterAllTools(s, bridge)
	return s
}
