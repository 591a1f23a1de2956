package bridge

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/session"
)

// positional validates p, opens its file and returns what a position query
// needs.
func (b *Bridge) positional(ctx context.Context, p Position) (*session.Session, string, position, error) {
	at, err := p.validate()
	if err != nil {
		return nil, "", position{}, err
	}
	s, uri, err := b.document(ctx, p.FilePath)
	if err != nil {
		return nil, "", position{}, err
	}
	return s, uri, at, nil
}

func (b *Bridge) ranged(ctx context.Context, r Range) (*session.Session, string, span, error) {
	sp, err := r.validate()
	if err != nil {
		return nil, "", span{}, err
	}
	s, uri, err := b.document(ctx, r.FilePath)
	if err != nil {
		return nil, "", span{}, err
	}
	return s, uri, sp, nil
}

// once wraps a single request as a retry attempt that finishes on any
// non-empty answer.
func (b *Bridge) once(s *session.Session, method string, params any) attemptFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		res, err := b.roundTrip(ctx, s, method, params)
		return res, false, err
	}
}

// Hover returns the hover text at a position. A null answer is not retried;
// it becomes a "no information" result.
func (b *Bridge) Hover(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := b.roundTrip(ctx, s, lsp.MethodHover, lsp.HoverParams(uri, at.line, at.character))
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyHover(res), Empty: isEmpty(res), Attempts: 1}, nil
}

// Definition returns the definition locations of the symbol at a position.
func (b *Bridge) Definition(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	out, err := b.poll(ctx, s, "definition", b.once(s, lsp.MethodDefinition, lsp.DefinitionParams(uri, at.line, at.character)))
	if err != nil {
		return nil, err
	}
	out.Data = simplifyLocations(newLocator(s), out.Data, "targetSelectionRange", true)
	return out, nil
}

// References returns every reference to the symbol, declaration included.
func (b *Bridge) References(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	out, err := b.poll(ctx, s, "references", b.once(s, lsp.MethodReferences, lsp.ReferencesParams(uri, at.line, at.character)))
	if err != nil {
		return nil, err
	}
	out.Data = simplifyLocations(newLocator(s), out.Data, "targetRange", false)
	return out, nil
}

// Implementation returns the implementations of a trait or type.
func (b *Bridge) Implementation(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	out, err := b.poll(ctx, s, "implementation", b.once(s, lsp.MethodImplementation, lsp.ImplementationParams(uri, at.line, at.character)))
	if err != nil {
		return nil, err
	}
	out.Data = simplifyLocations(newLocator(s), out.Data, "targetRange", false)
	return out, nil
}

// ParentModule returns the module declaration that owns a position.
func (b *Bridge) ParentModule(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := b.roundTrip(ctx, s, lsp.MethodParentModule, lsp.TextDocumentPositionParams(uri, at.line, at.character))
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyLocations(newLocator(s), res, "targetSelectionRange", false), Empty: isEmpty(res), Attempts: 1}, nil
}

// IncomingCalls lists the callers of the function at a position.
func (b *Bridge) IncomingCalls(ctx context.Context, p Position) (*Result, error) {
	return b.callHierarchy(ctx, p, lsp.MethodIncomingCalls, "from")
}

// OutgoingCalls lists the functions called by the function at a position.
func (b *Bridge) OutgoingCalls(ctx context.Context, p Position) (*Result, error) {
	return b.callHierarchy(ctx, p, lsp.MethodOutgoingCalls, "to")
}

// callHierarchy prepares the item at p and asks for its calls. Only an empty
// prepare is retried; an empty call list is an answer.
func (b *Bridge) callHierarchy(ctx context.Context, p Position, method, side string) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	prepare := lsp.PrepareCallHierarchyParams(uri, at.line, at.character)
	out, err := b.poll(ctx, s, method, func(ctx context.Context) (json.RawMessage, bool, error) {
		prepared, err := b.roundTrip(ctx, s, lsp.MethodPrepareCallHierarchy, prepare)
		if err != nil || isEmpty(prepared) {
			return prepared, false, err
		}
		item := gjson.GetBytes(prepared, "0")
		res, err := b.roundTrip(ctx, s, method, lsp.CallHierarchyCallsParams(json.RawMessage(item.Raw)))
		return res, true, err
	})
	if err != nil {
		return nil, err
	}
	out.Data = simplifyCalls(newLocator(s), out.Data, side)
	return out, nil
}

// InlayHints returns type and parameter hints for a range.
func (b *Bridge) InlayHints(ctx context.Context, r Range) (*Result, error) {
	s, uri, sp, err := b.ranged(ctx, r)
	if err != nil {
		return nil, err
	}
	res, err := b.roundTrip(ctx, s, lsp.MethodInlayHint,
		lsp.RangeParams(uri, sp.start.line, sp.start.character, sp.end.line, sp.end.character))
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyInlayHints(res), Empty: isEmpty(res), Attempts: 1}, nil
}

// Completion returns completion candidates at a position.
func (b *Bridge) Completion(ctx context.Context, p Position) (*Result, error) {
	s, uri, at, err := b.positional(ctx, p)
	if err != nil {
		return nil, err
	}
	params := lsp.CompletionParams(uri, at.line, at.character)
	out, err := b.poll(ctx, s, "completion", func(ctx context.Context) (json.RawMessage, bool, error) {
		res, err := b.roundTrip(ctx, s, lsp.MethodCompletion, params)
		if err != nil {
			return nil, false, err
		}
		// An empty CompletionList is still an object; look at its items.
		_, entries := completionEntries(res)
		if len(entries) == 0 {
			return json.RawMessage("[]"), false, nil
		}
		return res, true, nil
	})
	if err != nil {
		return nil, err
	}
	out.Data = simplifyCompletion(out.Data)
	return out, nil
}

// DocumentSymbols returns the symbol outline of a file.
func (b *Bridge) DocumentSymbols(ctx context.Context, filePath string) (*Result, error) {
	s, uri, err := b.document(ctx, filePath)
	if err != nil {
		return nil, err
	}
	res, err := b.roundTrip(ctx, s, lsp.MethodDocumentSymbol, lsp.DocumentSymbolParams(uri))
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyDocumentSymbols(res), Empty: isEmpty(res), Attempts: 1}, nil
}

// WorkspaceSymbols searches symbols across the workspace. Results are empty
// until indexing has covered the crate, so empty answers are retried.
func (b *Bridge) WorkspaceSymbols(ctx context.Context, query string) (*Result, error) {
	s, err := b.ready()
	if err != nil {
		return nil, err
	}
	out, err := b.poll(ctx, s, "workspace_symbol", b.once(s, lsp.MethodWorkspaceSymbol, lsp.WorkspaceSymbolParams(query)))
	if err != nil {
		return nil, err
	}
	out.Data = simplifyWorkspaceSymbols(newLocator(s), out.Data)
	return out, nil
}

// Format returns the edits rustfmt would make to a file. Nothing is applied.
func (b *Bridge) Format(ctx context.Context, filePath string) (*Result, error) {
	s, uri, err := b.document(ctx, filePath)
	if err != nil {
		return nil, err
	}
	res, err := b.roundTrip(ctx, s, lsp.MethodFormatting, lsp.FormattingParams(uri))
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyEdits(res), Empty: isEmpty(res), Attempts: 1}, nil
}

// CodeActions lists the fixes and refactors available for a range. The
// diagnostics overlapping the range are sent as context so quick fixes show
// up.
func (b *Bridge) CodeActions(ctx context.Context, r Range) (*Result, error) {
	s, uri, sp, err := b.ranged(ctx, r)
	if err != nil {
		return nil, err
	}
	diags, err := b.fileDiagnostics(ctx, s, uri)
	if err != nil {
		return nil, err
	}
	params := lsp.CodeActionParams(uri, sp.start.line, sp.start.character, sp.end.line, sp.end.character,
		diagnosticsInRange(diags, sp.start.line, sp.end.line))
	res, err := b.roundTrip(ctx, s, lsp.MethodCodeAction, params)
	if err != nil {
		return nil, err
	}
	return &Result{Data: simplifyCodeActions(res), Empty: isEmpty(res), Attempts: 1}, nil
}
