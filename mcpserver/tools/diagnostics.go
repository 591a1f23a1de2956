package tools

import (
	"context"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DiagnosticsTool returns compiler and clippy diagnostics of one file.
func DiagnosticsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return fileTool(bridge, bridgepkg.ToolDiagnostics,
		`Get errors, warnings and hints for a file. Waits a few seconds for cargo check results when none were published yet.

OUTPUT: {file, diagnostics: [{severity, line, character, end_line, end_character, message, code, source}], summary: {errors, warnings, information, hints}}`,
		func(b interfaces.BridgeInterface) fileFunc { return b.Diagnostics })
}

// WorkspaceDiagnosticsTool aggregates diagnostics across the workspace.
func WorkspaceDiagnosticsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	const name = bridgepkg.ToolWorkspaceDiagnostics
	return readOnlyTool(name,
			`Get diagnostics for every file in the workspace, grouped by file.

OUTPUT: {workspace, source pull|published, files: {path: {diagnostics, summary}}, summary: {total_files, total_errors, total_warnings, total_information, total_hints}}`),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if result, ok := CheckReadyOrReturn(bridge); !ok {
				return result, nil
			}
			res, err := bridge.WorkspaceDiagnostics(ctx)
			if err != nil {
				return errorResult(name, err), nil
			}
			return textResult(res), nil
		}
}

func RegisterDiagnosticsTools(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(DiagnosticsTool(bridge))
	mcpServer.AddTool(WorkspaceDiagnosticsTool(bridge))
}
