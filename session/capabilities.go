package session

import (
	"os"
	"path/filepath"

	"rockerboo/rust-analyzer-bridge/lsp"
)

// ClientName and ClientVersion are reported in initialize.clientInfo.
const (
	ClientName    = "rust-analyzer-bridge"
	ClientVersion = "0.3.0"
)

// clientCapabilities declares what the bridge can consume. Call hierarchy,
// workspace symbols and code action literals must be present or
// rust-analyzer omits the corresponding providers.
func clientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"synchronization": map[string]any{
				"dynamicRegistration": false,
				"didSave":             false,
			},
			"hover": map[string]any{
				"contentFormat": []string{"markdown", "plaintext"},
			},
			"definition": map[string]any{
				"linkSupport": true,
			},
			"references":     map[string]any{},
			"implementation": map[string]any{"linkSupport": true},
			"completion": map[string]any{
				"completionItem": map[string]any{
					"snippetSupport":          false,
					"documentationFormat":     []string{"markdown", "plaintext"},
					"labelDetailsSupport":     true,
					"deprecatedSupport":       true,
					"insertReplaceSupport":    false,
					"resolveSupport":          map[string]any{"properties": []string{"documentation", "detail"}},
					"commitCharactersSupport": false,
				},
				"contextSupport": false,
			},
			"documentSymbol": map[string]any{
				"hierarchicalDocumentSymbolSupport": true,
			},
			"formatting": map[string]any{},
			"codeAction": map[string]any{
				"codeActionLiteralSupport": map[string]any{
					"codeActionKind": map[string]any{
						"valueSet": lsp.CodeActionKinds,
					},
				},
				"resolveSupport": map[string]any{"properties": []string{"edit"}},
			},
			"inlayHint":     map[string]any{},
			"callHierarchy": map[string]any{"dynamicRegistration": false},
			"diagnostic":    map[string]any{"relatedDocumentSupport": false},
			"publishDiagnostics": map[string]any{
				"relatedInformation": true,
				"versionSupport":     false,
			},
		},
		"workspace": map[string]any{
			"symbol": map[string]any{
				"symbolKind": map[string]any{"valueSet": symbolKindValueSet()},
			},
			"workspaceFolders": true,
			"configuration":    true,
			"didChangeWatchedFiles": map[string]any{
				"dynamicRegistration": true,
			},
		},
		"window": map[string]any{
			"workDoneProgress": true,
		},
		"experimental": map[string]any{
			"serverStatusNotification": true,
		},
	}
}

func symbolKindValueSet() []int {
	out := make([]int, 26)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// initializeParams builds the initialize request for a workspace. rootURI is
// the URI as the server sees it (after path mapping).
func initializeParams(root, rootURI, rootPath string, initOptions map[string]any) map[string]any {
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"rootPath":  rootPath,
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": filepath.Base(root)},
		},
		"clientInfo": map[string]any{
			"name":    ClientName,
			"version": ClientVersion,
		},
		"capabilities": clientCapabilities(),
	}
	if len(initOptions) > 0 {
		params["initializationOptions"] = initOptions
	}
	return params
}
