package tools

import (
	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// HoverTool returns type information and documentation at a position.
func HoverTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolHover,
		`Get type information and documentation for the symbol at a position.

OUTPUT: {contents, range} or {"contents": null, "message": "No hover information available"}`,
		func(b interfaces.BridgeInterface) positionFunc { return b.Hover })
}

// DefinitionTool exposes textDocument/definition.
func DefinitionTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolDefinition,
		`Find where the symbol at a position is defined. Results may be empty while rust-analyzer is still indexing; the call waits and retries.

OUTPUT: [{file, line, character, uri}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.Definition })
}

// ReferencesTool exposes textDocument/references, declaration included.
func ReferencesTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolReferences,
		`Find all references to the symbol at a position, including its declaration.

OUTPUT: [{file, line, character}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.References })
}

// ImplementationTool exposes textDocument/implementation.
func ImplementationTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolImplementation,
		`Find implementations of the trait or type at a position.

OUTPUT: [{file, line, character}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.Implementation })
}

// ParentModuleTool exposes rust-analyzer's experimental/parentModule.
func ParentModuleTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolParentModule,
		`Find the module declaration ("mod x;") that owns the file at a position.

OUTPUT: [{file, line, character}]`,
		func(b interfaces.BridgeInterface) positionFunc { return b.ParentModule })
}

// CompletionTool exposes textDocument/completion.
func CompletionTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return positionTool(bridge, bridgepkg.ToolCompletion,
		`List completion candidates at a position. At most 100 items are returned.

OUTPUT: {is_incomplete, total, items: [{label, kind, detail}]}`,
		func(b interfaces.BridgeInterface) positionFunc { return b.Completion })
}

func RegisterHoverTool(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(HoverTool(bridge))
}

func RegisterNavigationTools(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(DefinitionTool(bridge))
	mcpServer.AddTool(ReferencesTool(bridge))
	mcpServer.AddTool(ImplementationTool(bridge))
	mcpServer.AddTool(ParentModuleTool(bridge))
}

func RegisterCompletionTool(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(CompletionTool(bridge))
}
