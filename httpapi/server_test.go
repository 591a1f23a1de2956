package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/mocks"
)

func do(t *testing.T, h http.Handler, method, path, body string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	b := &mocks.MockBridge{}
	b.On("GetWorkspace").Return(bridge.WorkspaceInfo{Workspace: "/work", Initialized: true})

	code, resp := do(t, New(b, "").Handler(), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"status":"ok","workspace":"/work","initialized":true}`, string(resp.Result))
}

func TestToolsListsEveryTool(t *testing.T) {
	code, resp := do(t, New(&mocks.MockBridge{}, "").Handler(), http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, code)

	var out struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	assert.Equal(t, bridge.ToolNames(), out.Tools)
}

func TestStatus(t *testing.T) {
	code, resp := do(t, New(&mocks.MockBridge{}, "").Handler(), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	var st bridge.Status
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.True(t, st.Ready)
}

func TestCallToolPassesBody(t *testing.T) {
	b := &mocks.MockBridge{}
	args := `{"file_path":"src/lib.rs","line":1,"character":4}`
	b.On("Invoke", mock.Anything, bridge.ToolHover, json.RawMessage(args)).
		Return(&bridge.Result{Data: json.RawMessage(`{"contents":"fn greet()"}`), Attempts: 1}, nil)

	code, resp := do(t, New(b, "").Handler(), http.MethodPost, "/api/v1/"+bridge.ToolHover, args)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"contents":"fn greet()"}`, string(resp.Result))
	assert.Equal(t, 1, resp.Attempts)
	b.AssertExpectations(t)
}

func TestCallToolEmptyBodyIsEmptyObject(t *testing.T) {
	b := &mocks.MockBridge{}
	b.On("Invoke", mock.Anything, bridge.ToolWorkspaceDiagnostics, json.RawMessage("{}")).
		Return(&bridge.Result{Data: json.RawMessage(`{"files":{}}`), Empty: true, Attempts: 5}, nil)

	code, resp := do(t, New(b, "").Handler(), http.MethodPost, "/api/v1/"+bridge.ToolWorkspaceDiagnostics, "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Empty)
	assert.Equal(t, 5, resp.Attempts)
}

func TestErrorStatusCodes(t *testing.T) {
	unknown := lsp.InvalidArgument("unknown tool %q", "nope")
	unknown.Err = bridge.ErrUnknownTool

	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"invalid argument", lsp.InvalidArgument("line must be >= 0"), http.StatusBadRequest, "InvalidArgument"},
		{"not ready", lsp.NotReady("no workspace"), http.StatusServiceUnavailable, "NotReady"},
		{"unknown tool", unknown, http.StatusNotFound, "InvalidArgument"},
		{"upstream", lsp.UpstreamError(lsp.MethodHover, -32603, "panic"), http.StatusBadGateway, "UpstreamError"},
		{"transport", lsp.TransportClosed(errors.New("EOF")), http.StatusInternalServerError, "TransportClosed"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mocks.MockBridge{}
			b.On("Invoke", mock.Anything, "some_tool", mock.Anything).Return(nil, tt.err)

			code, resp := do(t, New(b, "").Handler(), http.MethodPost, "/api/v1/some_tool", `{}`)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.err.Error(), resp.Error)
			assert.Empty(t, resp.Result)
		})
	}
}

func TestInvalidJSONBodyRejected(t *testing.T) {
	b := &mocks.MockBridge{}
	code, resp := do(t, New(b, "").Handler(), http.MethodPost, "/api/v1/"+bridge.ToolHover, `{"file_path":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidArgument", resp.Kind)
	b.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkspaceRoutes(t *testing.T) {
	b := &mocks.MockBridge{}
	b.On("GetWorkspace").Return(bridge.WorkspaceInfo{Workspace: "/old", Initialized: true})
	b.On("Invoke", mock.Anything, bridge.ToolSetWorkspace, json.RawMessage(`{"workspace_path":"/new"}`)).
		Return(&bridge.Result{Data: json.RawMessage(`{"workspace":"/new","initialized":true,"changed":true}`)}, nil)
	h := New(b, "").Handler()

	code, resp := do(t, h, http.MethodGet, "/api/v1/workspace", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"workspace":"/old","initialized":true}`, string(resp.Result))

	code, resp = do(t, h, http.MethodPost, "/api/v1/workspace", `{"workspace_path":"/new"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"workspace":"/new","initialized":true,"changed":true}`, string(resp.Result))
}

func TestShutdownStopsServe(t *testing.T) {
	srv := New(&mocks.MockBridge{}, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/api/v1/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-srv.ShutdownRequested():
	default:
		t.Fatal("shutdown was not signalled")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	srv := New(&mocks.MockBridge{}, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPortFromEnv(t *testing.T) {
	t.Setenv("RUST_ANALYZER_PORT", "")
	assert.Equal(t, DefaultPort, Port(DefaultPort))

	t.Setenv("RUST_ANALYZER_PORT", "18080")
	assert.Equal(t, 18080, Port(DefaultPort))

	t.Setenv("RUST_ANALYZER_PORT", "not-a-port")
	assert.Equal(t, DefaultPort, Port(DefaultPort))

	t.Setenv("RUST_ANALYZER_PORT", "70000")
	assert.Equal(t, DefaultPort, Port(DefaultPort))
}
