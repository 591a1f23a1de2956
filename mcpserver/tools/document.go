package tools

import (
	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SymbolsTool returns the symbol outline of a file.
func SymbolsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return fileTool(bridge, bridgepkg.ToolSymbols,
		`List the symbols declared in a file as a tree.

OUTPUT: [{name, kind, detail, line, character, end_line, children}]`,
		func(b interfaces.BridgeInterface) fileFunc { return b.DocumentSymbols })
}

// FormatTool returns rustfmt edits without applying them.
func FormatTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return fileTool(bridge, bridgepkg.ToolFormat,
		`Compute the rustfmt edits for a file. Nothing is written; apply the edits yourself.

OUTPUT: [{start "line:char", end "line:char", new_text}]`,
		func(b interfaces.BridgeInterface) fileFunc { return b.Format })
}

// InlayHintTool returns type and parameter hints for a range.
func InlayHintTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return rangeTool(bridge, bridgepkg.ToolInlayHint,
		`Get inferred type and parameter name hints for a range of a file.

OUTPUT: [{position "line:char", label, kind type|parameter|other}]`,
		func(b interfaces.BridgeInterface) rangeFunc { return b.InlayHints })
}

// CodeActionsTool lists quick fixes and refactors for a range.
func CodeActionsTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return rangeTool(bridge, bridgepkg.ToolCodeActions,
		`List quick fixes and refactorings available for a range. Diagnostics on those lines are sent along so fixes show up. Actions are listed, not applied.

OUTPUT: [{title, kind, is_preferred}]`,
		func(b interfaces.BridgeInterface) rangeFunc { return b.CodeActions })
}

func RegisterDocumentTools(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(SymbolsTool(bridge))
	mcpServer.AddTool(FormatTool(bridge))
	mcpServer.AddTool(InlayHintTool(bridge))
	mcpServer.AddTool(CodeActionsTool(bridge))
}
