package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/tidwall/gjson"
	"rockerboo/rust-analyzer-bridge/lsp"
)

// Tool names shared by the MCP server, the HTTP API and the CLI.
const (
	ToolHover                = "rust_analyzer_hover"
	ToolDefinition           = "rust_analyzer_definition"
	ToolReferences           = "rust_analyzer_references"
	ToolImplementation       = "rust_analyzer_implementation"
	ToolParentModule         = "rust_analyzer_parent_module"
	ToolIncomingCalls        = "rust_analyzer_incoming_calls"
	ToolOutgoingCalls        = "rust_analyzer_outgoing_calls"
	ToolInlayHint            = "rust_analyzer_inlay_hint"
	ToolCompletion           = "rust_analyzer_completion"
	ToolSymbols              = "rust_analyzer_symbols"
	ToolWorkspaceSymbol      = "rust_analyzer_workspace_symbol"
	ToolFormat               = "rust_analyzer_format"
	ToolCodeActions          = "rust_analyzer_code_actions"
	ToolDiagnostics          = "rust_analyzer_diagnostics"
	ToolWorkspaceDiagnostics = "rust_analyzer_workspace_diagnostics"
	ToolGetWorkspace         = "rust_analyzer_get_workspace"
	ToolSetWorkspace         = "rust_analyzer_set_workspace"
	ToolStatus               = "lsp_status"
)

// ToolNames lists every tool in the order they are advertised.
func ToolNames() []string {
	return []string{
		ToolHover, ToolDefinition, ToolReferences, ToolImplementation, ToolParentModule,
		ToolIncomingCalls, ToolOutgoingCalls, ToolInlayHint, ToolCompletion, ToolSymbols,
		ToolWorkspaceSymbol, ToolFormat, ToolCodeActions, ToolDiagnostics,
		ToolWorkspaceDiagnostics, ToolGetWorkspace, ToolSetWorkspace, ToolStatus,
	}
}

// ErrUnknownTool is wrapped by Invoke for names not in ToolNames.
var ErrUnknownTool = errors.New("tool not found")

// Invoke runs a tool by name with JSON object arguments.
func (b *Bridge) Invoke(ctx context.Context, tool string, args json.RawMessage) (*Result, error) {
	a := arguments{gjson.ParseBytes(args)}
	if len(args) > 0 && !a.IsObject() && a.Type != gjson.Null {
		return nil, lsp.InvalidArgument("arguments must be a JSON object")
	}

	switch tool {
	case ToolHover, ToolDefinition, ToolReferences, ToolImplementation, ToolParentModule,
		ToolIncomingCalls, ToolOutgoingCalls, ToolCompletion:
		p, err := a.position()
		if err != nil {
			return nil, err
		}
		return b.positionTool(ctx, tool, p)
	case ToolInlayHint, ToolCodeActions:
		r, err := a.span()
		if err != nil {
			return nil, err
		}
		if tool == ToolInlayHint {
			return b.InlayHints(ctx, r)
		}
		return b.CodeActions(ctx, r)
	case ToolSymbols, ToolFormat, ToolDiagnostics:
		path, err := a.str("file_path")
		if err != nil {
			return nil, err
		}
		switch tool {
		case ToolSymbols:
			return b.DocumentSymbols(ctx, path)
		case ToolFormat:
			return b.Format(ctx, path)
		default:
			return b.Diagnostics(ctx, path)
		}
	case ToolWorkspaceSymbol:
		q, err := a.str("query")
		if err != nil {
			return nil, err
		}
		return b.WorkspaceSymbols(ctx, q)
	case ToolWorkspaceDiagnostics:
		return b.WorkspaceDiagnostics(ctx)
	case ToolGetWorkspace:
		return &Result{Data: mustMarshal(b.GetWorkspace())}, nil
	case ToolSetWorkspace:
		path, err := a.str("workspace_path")
		if err != nil {
			return nil, err
		}
		info, err := b.SetWorkspace(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Result{Data: mustMarshal(info)}, nil
	case ToolStatus:
		return &Result{Data: mustMarshal(b.Status())}, nil
	default:
		e := lsp.InvalidArgument("unknown tool %q", tool)
		e.Err = ErrUnknownTool
		return nil, e
	}
}

func (b *Bridge) positionTool(ctx context.Context, tool string, p Position) (*Result, error) {
	switch tool {
	case ToolHover:
		return b.Hover(ctx, p)
	case ToolDefinition:
		return b.Definition(ctx, p)
	case ToolReferences:
		return b.References(ctx, p)
	case ToolImplementation:
		return b.Implementation(ctx, p)
	case ToolParentModule:
		return b.ParentModule(ctx, p)
	case ToolIncomingCalls:
		return b.IncomingCalls(ctx, p)
	case ToolOutgoingCalls:
		return b.OutgoingCalls(ctx, p)
	default:
		return b.Completion(ctx, p)
	}
}

type arguments struct{ gjson.Result }

func (a arguments) str(key string) (string, error) {
	v := a.Get(key)
	if !v.Exists() {
		return "", lsp.InvalidArgument("missing %s", key)
	}
	if v.Type != gjson.String {
		return "", lsp.InvalidArgument("%s must be a string", key)
	}
	return v.String(), nil
}

func (a arguments) integer(key string) (int, error) {
	v := a.Get(key)
	if !v.Exists() {
		return 0, lsp.InvalidArgument("missing %s", key)
	}
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) {
		return 0, lsp.InvalidArgument("%s must be an integer", key)
	}
	if v.Num < 0 || v.Num > math.MaxUint32 {
		return 0, lsp.InvalidArgument("%s %v is out of range", key, v.Num)
	}
	return int(v.Num), nil
}

func (a arguments) position() (Position, error) {
	path, err := a.str("file_path")
	if err != nil {
		return Position{}, err
	}
	line, err := a.integer("line")
	if err != nil {
		return Position{}, err
	}
	char, err := a.integer("character")
	if err != nil {
		return Position{}, err
	}
	return Position{FilePath: path, Line: line, Character: char}, nil
}

func (a arguments) span() (Range, error) {
	p, err := a.position()
	if err != nil {
		return Range{}, err
	}
	endLine, err := a.integer("end_line")
	if err != nil {
		return Range{}, err
	}
	endChar, err := a.integer("end_character")
	if err != nil {
		return Range{}, err
	}
	return Range{FilePath: p.FilePath, Line: p.Line, Character: p.Character, EndLine: endLine, EndCharacter: endChar}, nil
}
