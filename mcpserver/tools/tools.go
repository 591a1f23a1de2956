package tools

import (
	"context"
	"fmt"
	"strings"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/pretty"
)

// ToolServer is the part of *server.MCPServer the tools register against.
type ToolServer interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

var _ ToolServer = (*server.MCPServer)(nil)

func filePathParam() mcp.ToolOption {
	return mcp.WithString("file_path",
		mcp.Description("Path to the file, absolute or relative to the workspace root"),
		mcp.Required())
}

func positionParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		filePathParam(),
		mcp.WithNumber("line", mcp.Description("Line number (0-based)"), mcp.Required(), mcp.Min(0)),
		mcp.WithNumber("character", mcp.Description("Character offset in the line (0-based)"), mcp.Required(), mcp.Min(0)),
	}
}

func rangeParams() []mcp.ToolOption {
	return append(positionParams(),
		mcp.WithNumber("end_line", mcp.Description("End line (0-based, inclusive)"), mcp.Required(), mcp.Min(0)),
		mcp.WithNumber("end_character", mcp.Description("End character (0-based)"), mcp.Required(), mcp.Min(0)),
	)
}

// readOnlyTool builds a tool that never changes files.
func readOnlyTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	base := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	}
	return mcp.NewTool(name, append(base, opts...)...)
}

func integerArg(request mcp.CallToolRequest, key string) (int, error) {
	v, err := request.RequireFloat(key)
	if err != nil {
		return 0, lsp.InvalidArgument("%v", err)
	}
	if v != float64(int(v)) {
		return 0, lsp.InvalidArgument("%s must be an integer", key)
	}
	return int(v), nil
}

func positionArg(request mcp.CallToolRequest) (bridgepkg.Position, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return bridgepkg.Position{}, lsp.InvalidArgument("%v", err)
	}
	line, err := integerArg(request, "line")
	if err != nil {
		return bridgepkg.Position{}, err
	}
	character, err := integerArg(request, "character")
	if err != nil {
		return bridgepkg.Position{}, err
	}
	return bridgepkg.Position{FilePath: path, Line: line, Character: character}, nil
}

func rangeArg(request mcp.CallToolRequest) (bridgepkg.Range, error) {
	p, err := positionArg(request)
	if err != nil {
		return bridgepkg.Range{}, err
	}
	endLine, err := integerArg(request, "end_line")
	if err != nil {
		return bridgepkg.Range{}, err
	}
	endCharacter, err := integerArg(request, "end_character")
	if err != nil {
		return bridgepkg.Range{}, err
	}
	return bridgepkg.Range{
		FilePath: p.FilePath, Line: p.Line, Character: p.Character,
		EndLine: endLine, EndCharacter: endCharacter,
	}, nil
}

// errorResult renders err as a tool error whose text starts with its kind,
// e.g. "NotReady: hover: ...".
func errorResult(name string, err error) *mcp.CallToolResult {
	logger.Error(name+": request failed", "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s: %v", lsp.KindOf(err), name, err))
}

// textResult pretty-prints a bridge result for the agent.
func textResult(res *bridgepkg.Result) *mcp.CallToolResult {
	if res == nil || len(res.Data) == 0 {
		return mcp.NewToolResultText("null")
	}
	return mcp.NewToolResultText(strings.TrimRight(string(pretty.Pretty(res.Data)), "\n"))
}

type positionFunc func(ctx context.Context, p bridgepkg.Position) (*bridgepkg.Result, error)

// positionTool builds the common file_path/line/character tool shape.
func positionTool(bridge interfaces.BridgeInterface, name, description string, call func(interfaces.BridgeInterface) positionFunc) (mcp.Tool, server.ToolHandlerFunc) {
	return readOnlyTool(name, description, positionParams()...),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			p, err := positionArg(request)
			if err != nil {
				return errorResult(name, err), nil
			}
			if result, ok := CheckReadyOrReturn(bridge); !ok {
				return result, nil
			}
			res, err := call(bridge)(ctx, p)
			if err != nil {
				return errorResult(name, err), nil
			}
			if res != nil && res.Empty && res.Attempts > 1 {
				logger.Debug(name+": returning empty result", "attempts", res.Attempts)
			}
			return textResult(res), nil
		}
}

type rangeFunc func(ctx context.Context, r bridgepkg.Range) (*bridgepkg.Result, error)

func rangeTool(bridge interfaces.BridgeInterface, name, description string, call func(interfaces.BridgeInterface) rangeFunc) (mcp.Tool, server.ToolHandlerFunc) {
	return readOnlyTool(name, description, rangeParams()...),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			r, err := rangeArg(request)
			if err != nil {
				return errorResult(name, err), nil
			}
			if result, ok := CheckReadyOrReturn(bridge); !ok {
				return result, nil
			}
			res, err := call(bridge)(ctx, r)
			if err != nil {
				return errorResult(name, err), nil
			}
			return textResult(res), nil
		}
}

type fileFunc func(ctx context.Context, filePath string) (*bridgepkg.Result, error)

func fileTool(bridge interfaces.BridgeInterface, name, description string, call func(interfaces.BridgeInterface) fileFunc) (mcp.Tool, server.ToolHandlerFunc) {
	return readOnlyTool(name, description, filePathParam()),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := request.RequireString("file_path")
			if err != nil {
				return errorResult(name, lsp.InvalidArgument("%v", err)), nil
			}
			if result, ok := CheckReadyOrReturn(bridge); !ok {
				return result, nil
			}
			res, err := call(bridge)(ctx, path)
			if err != nil {
				return errorResult(name, err), nil
			}
			return textResult(res), nil
		}
}
