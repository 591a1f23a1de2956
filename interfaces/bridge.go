package interfaces

import (
	"context"
	"encoding/json"

	"rockerboo/rust-analyzer-bridge/bridge"
)

// BridgeInterface is the surface the MCP tools and the HTTP API drive. It
// is implemented by *bridge.Bridge and mocked in tests.
type BridgeInterface interface {
	Hover(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	Definition(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	References(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	Implementation(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	ParentModule(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	IncomingCalls(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	OutgoingCalls(ctx context.Context, p bridge.Position) (*bridge.Result, error)
	Completion(ctx context.Context, p bridge.Position) (*bridge.Result, error)

	InlayHints(ctx context.Context, r bridge.Range) (*bridge.Result, error)
	CodeActions(ctx context.Context, r bridge.Range) (*bridge.Result, error)

	DocumentSymbols(ctx context.Context, filePath string) (*bridge.Result, error)
	Format(ctx context.Context, filePath string) (*bridge.Result, error)
	Diagnostics(ctx context.Context, filePath string) (*bridge.Result, error)

	WorkspaceSymbols(ctx context.Context, query string) (*bridge.Result, error)
	WorkspaceDiagnostics(ctx context.Context) (*bridge.Result, error)

	GetWorkspace() bridge.WorkspaceInfo
	SetWorkspace(ctx context.Context, path string) (bridge.WorkspaceInfo, error)
	Status() bridge.Status
	EnsureConnected()
	Invoke(ctx context.Context, tool string, args json.RawMessage) (*bridge.Result, error)
}

var _ BridgeInterface = (*bridge.Bridge)(nil)
