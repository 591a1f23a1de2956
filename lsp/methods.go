package lsp

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// LSP method names used by the bridge.
const (
	MethodInitialize             = "initialize"
	MethodInitialized            = "initialized"
	MethodShutdown               = "shutdown"
	MethodExit                   = "exit"
	MethodDidOpen                = "textDocument/didOpen"
	MethodDidClose               = "textDocument/didClose"
	MethodHover                  = "textDocument/hover"
	MethodDefinition             = "textDocument/definition"
	MethodReferences             = "textDocument/references"
	MethodImplementation         = "textDocument/implementation"
	MethodCompletion             = "textDocument/completion"
	MethodDocumentSymbol         = "textDocument/documentSymbol"
	MethodFormatting             = "textDocument/formatting"
	MethodCodeAction             = "textDocument/codeAction"
	MethodInlayHint              = "textDocument/inlayHint"
	MethodDocumentDiagnostic     = "textDocument/diagnostic"
	MethodPrepareCallHierarchy   = "textDocument/prepareCallHierarchy"
	MethodIncomingCalls          = "callHierarchy/incomingCalls"
	MethodOutgoingCalls          = "callHierarchy/outgoingCalls"
	MethodWorkspaceSymbol        = "workspace/symbol"
	MethodWorkspaceDiagnostic    = "workspace/diagnostic"
	MethodDidChangeWatchedFiles  = "workspace/didChangeWatchedFiles"
	MethodParentModule           = "experimental/parentModule"
	MethodPublishDiagnostics     = "textDocument/publishDiagnostics"
	MethodProgress               = "$/progress"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"
)

// LanguageIDRust is the languageId sent with every didOpen.
const LanguageIDRust = "rust"

func docID(uri string) protocol.TextDocumentIdentifier {
	return protocol.TextDocumentIdentifier{Uri: protocol.DocumentUri(uri)}
}

func pos(line, character uint32) protocol.Position {
	return protocol.Position{Line: line, Character: character}
}

// DidOpenParams builds a didOpen for a Rust document at version 1.
func DidOpenParams(uri, text string) protocol.DidOpenTextDocumentParams {
	return protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			Uri:        protocol.DocumentUri(uri),
			LanguageId: protocol.LanguageKind(LanguageIDRust),
			Version:    1,
			Text:       text,
		},
	}
}

func HoverParams(uri string, line, character uint32) protocol.HoverParams {
	return protocol.HoverParams{TextDocument: docID(uri), Position: pos(line, character)}
}

func DefinitionParams(uri string, line, character uint32) protocol.DefinitionParams {
	return protocol.DefinitionParams{TextDocument: docID(uri), Position: pos(line, character)}
}

// ReferencesParams always includes the declaration itself.
func ReferencesParams(uri string, line, character uint32) protocol.ReferenceParams {
	return protocol.ReferenceParams{
		TextDocument: docID(uri),
		Position:     pos(line, character),
		Context:      protocol.ReferenceContext{IncludeDeclaration: true},
	}
}

func ImplementationParams(uri string, line, character uint32) protocol.ImplementationParams {
	return protocol.ImplementationParams{TextDocument: docID(uri), Position: pos(line, character)}
}

// CompletionParams omits the trigger context; the server treats it as invoked.
func CompletionParams(uri string, line, character uint32) map[string]any {
	return TextDocumentPositionParams(uri, line, character)
}

func PrepareCallHierarchyParams(uri string, line, character uint32) protocol.CallHierarchyPrepareParams {
	return protocol.CallHierarchyPrepareParams{TextDocument: docID(uri), Position: pos(line, character)}
}

func DocumentSymbolParams(uri string) protocol.DocumentSymbolParams {
	return protocol.DocumentSymbolParams{TextDocument: docID(uri)}
}

func WorkspaceSymbolParams(query string) protocol.WorkspaceSymbolParams {
	return protocol.WorkspaceSymbolParams{Query: query}
}

// FormattingParams requests rustfmt-style four-space indentation.
func FormattingParams(uri string) protocol.DocumentFormattingParams {
	return protocol.DocumentFormattingParams{
		TextDocument: docID(uri),
		Options:      protocol.FormattingOptions{TabSize: 4, InsertSpaces: true},
	}
}

// TextDocumentPositionParams is the shape of experimental/parentModule.
func TextDocumentPositionParams(uri string, line, character uint32) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     map[string]any{"line": line, "character": character},
	}
}

// RangeParams builds {textDocument, range} as used by inlayHint.
func RangeParams(uri string, startLine, startChar, endLine, endChar uint32) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"range":        rangeMap(startLine, startChar, endLine, endChar),
	}
}

// CodeActionParams attaches the given diagnostics as context and restricts
// the kinds to fixes, refactors and source actions.
func CodeActionParams(uri string, startLine, startChar, endLine, endChar uint32, diagnostics []any) map[string]any {
	if diagnostics == nil {
		diagnostics = []any{}
	}
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"range":        rangeMap(startLine, startChar, endLine, endChar),
		"context": map[string]any{
			"diagnostics": diagnostics,
			"only":        CodeActionKinds,
		},
	}
}

// CodeActionKinds are the kinds requested from and declared to the server.
var CodeActionKinds = []string{
	"quickfix",
	"refactor",
	"refactor.extract",
	"refactor.inline",
	"refactor.rewrite",
	"source",
}

func DocumentDiagnosticParams(uri string) map[string]any {
	return map[string]any{"textDocument": map[string]any{"uri": uri}}
}

// WorkspaceDiagnosticParams requests a full report under the rust-analyzer
// identifier.
func WorkspaceDiagnosticParams() map[string]any {
	return map[string]any{"identifier": "rust-analyzer", "previousResultIds": []any{}}
}

// CallHierarchyCallsParams wraps an item returned by prepareCallHierarchy.
// The item is passed through verbatim so server-private data survives.
func CallHierarchyCallsParams(item any) map[string]any {
	return map[string]any{"item": item}
}

// LSP FileChangeType values.
const (
	FileCreated = 1
	FileChanged = 2
	FileDeleted = 3
)

// DidChangeWatchedFilesParams builds the notification for uri → change type,
// sorted by URI.
func DidChangeWatchedFilesParams(changes map[string]int) (protocol.DidChangeWatchedFilesParams, error) {
	uris := make([]string, 0, len(changes))
	for uri := range changes {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	wire := make([]map[string]any, 0, len(uris))
	for _, uri := range uris {
		wire = append(wire, map[string]any{"uri": uri, "type": changes[uri]})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return protocol.DidChangeWatchedFilesParams{}, err
	}
	var events []protocol.FileEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return protocol.DidChangeWatchedFilesParams{}, fmt.Errorf("file events: %w", err)
	}
	return protocol.DidChangeWatchedFilesParams{Changes: events}, nil
}

func rangeMap(startLine, startChar, endLine, endChar uint32) map[string]any {
	return map[string]any{
		"start": map[string]any{"line": startLine, "character": startChar},
		"end":   map[string]any{"line": endLine, "character": endChar},
	}
}
