package tools

import (
	"context"
	"encoding/json"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/pretty"
)

// WorkspaceSymbolTool searches symbols across the workspace.
func WorkspaceSymbolTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	const name = bridgepkg.ToolWorkspaceSymbol
	return readOnlyTool(name,
			`Search for symbols (functions, types, modules, ...) across the workspace by name. Fuzzy matched by rust-analyzer.

OUTPUT: [{name, kind, container, location "path:line:char"}]`,
			mcp.WithString("query", mcp.Description("Symbol name or fragment"), mcp.Required()),
		), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			query, err := request.RequireString("query")
			if err != nil {
				return errorResult(name, lsp.InvalidArgument("%v", err)), nil
			}
			if result, ok := CheckReadyOrReturn(bridge); !ok {
				return result, nil
			}
			res, err := bridge.WorkspaceSymbols(ctx, query)
			if err != nil {
				return errorResult(name, err), nil
			}
			return textResult(res), nil
		}
}

// GetWorkspaceTool reports the current workspace root.
func GetWorkspaceTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	return readOnlyTool(bridgepkg.ToolGetWorkspace,
			`Show the workspace root rust-analyzer is running on.

OUTPUT: {workspace, initialized, state}`),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return jsonResult(bridgepkg.ToolGetWorkspace, bridge.GetWorkspace()), nil
		}
}

// SetWorkspaceTool (re)starts rust-analyzer on a workspace root.
func SetWorkspaceTool(bridge interfaces.BridgeInterface) (mcp.Tool, server.ToolHandlerFunc) {
	const name = bridgepkg.ToolSetWorkspace
	return mcp.NewTool(name,
			mcp.WithDescription(`Point rust-analyzer at a crate or workspace root (the directory holding Cargo.toml). Restarts the language server unless it already runs on that root. Also the way to recover after the server crashed.

OUTPUT: {workspace, initialized, state, changed, message}`),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithString("workspace_path", mcp.Description("Absolute path of the workspace root"), mcp.Required()),
		), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := request.RequireString("workspace_path")
			if err != nil {
				return errorResult(name, lsp.InvalidArgument("%v", err)), nil
			}
			info, err := bridge.SetWorkspace(ctx, path)
			if err != nil {
				return errorResult(name, err), nil
			}
			logger.Info(name+": workspace set", "workspace", info.Workspace, "message", info.Message)
			return jsonResult(name, info), nil
		}
}

func jsonResult(name string, v any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult(name, err)
	}
	return mcp.NewToolResultText(string(pretty.Pretty(raw)))
}

func RegisterWorkspaceTools(mcpServer ToolServer, bridge interfaces.BridgeInterface) {
	mcpServer.AddTool(WorkspaceSymbolTool(bridge))
	mcpServer.AddTool(GetWorkspaceTool(bridge))
	mcpServer.AddTool(SetWorkspaceTool(bridge))
}
