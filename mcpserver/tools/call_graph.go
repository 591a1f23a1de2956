package tools

import (
	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// IncomingCallsTool lists the callers of the function at a position.
func IncomingCallsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolIncomingCalls,
		`List the functions that call the function at a position (one level of the call hierarchy).

OUTPUT: [{name, kind, detail, file, line, character}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.IncomingCalls })
}

// OutgoingCallsTool lists the functions called by the function at a position.
func OutgoingCallsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolOutgoingCalls,
		`List the functions called from the function at a position (one level of the call hierarchy).

OUTPUT: [{name, kind, detail, file, line, character}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.OutgoingCalls })
}

func RegisterCallHierarchyTools(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(IncomingCallsTool(bridge))
	mcpServer.AddTool(OutgoingCallsTool(bridge))
}
