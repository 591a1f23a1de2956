package mcpserver

import (
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/mcpserver/tools"
)

// Registers all MCP tools with the server
func RegisterAllTools(mcpServer tools.ToolServer, bridge interfaces.BridgeInterface) {
	// Navigation
	tools.RegisterHoverTool(mcpServer, bridge)
	tools.RegisterNavigationTools(mcpServer, bridge)
	tools.RegisterCallHierarchyTools(mcpServer, bridge)

	// Editing assistance (nothing is applied)
	tools.RegisterCompletionTool(mcpServer, bridge)
	tools.RegisterDocumentTools(mcpServer, bridge)

	// Diagnostics
	tools.RegisterDiagnosticsTools(mcpServer, bridge)

	// Workspace management and symbol search
	tools.RegisterWorkspaceTools(mcpServer, bridge)

	// Server status (includes $/progress)
	tools.RegisterLSPStatusTool(mcpServer, bridge)
}
