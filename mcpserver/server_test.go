package mcpserver

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/mocks"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/mcptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewServer_RegistersEveryTool(t *testing.T) {
	s := NewServer("rust-analyzer-bridge", "test", &mocks.MockBridge{}, nil)

	var got []string
	for name := range s.ListTools() {
		got = append(got, name)
	}
	want := bridgepkg.ToolNames()
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestRegisterAllTools_EndToEnd(t *testing.T) {
	bridge := &mocks.MockBridge{}
	bridge.On("WorkspaceSymbols", mock.Anything, "greet").Return(&bridgepkg.Result{
		Data: json.RawMessage(`[{"name":"greet","kind":"function","location":"src/lib.rs:0:7"}]`),
	}, nil)

	srv := mcptest.NewUnstartedServer(t)
	RegisterAllTools(srv, bridge)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	listed, err := srv.Client().ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, listed.Tools, len(bridgepkg.ToolNames()))

	res, err := srv.Client().CallTool(context.Background(), mcp.CallToolRequest{
		Request: mcp.Request{Method: "tools/call"},
		Params: mcp.CallToolParams{
			Name:      bridgepkg.ToolWorkspaceSymbol,
			Arguments: map[string]any{"query": "greet"},
		},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "src/lib.rs:0:7")
	bridge.AssertExpectations(t)
}
