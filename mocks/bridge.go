package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
	"rockerboo/rust-analyzer-bridge/bridge"
)

// MockBridge is a testify mock of interfaces.BridgeInterface.
type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) result(args mock.Arguments) (*bridge.Result, error) {
	res, _ := args.Get(0).(*bridge.Result)
	return res, args.Error(1)
}

func (m *MockBridge) Hover(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) Definition(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) References(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) Implementation(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) ParentModule(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) IncomingCalls(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) OutgoingCalls(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) Completion(ctx context.Context, p bridge.Position) (*bridge.Result, error) {
	return m.result(m.Called(ctx, p))
}

func (m *MockBridge) InlayHints(ctx context.Context, r bridge.Range) (*bridge.Result, error) {
	return m.result(m.Called(ctx, r))
}

func (m *MockBridge) CodeActions(ctx context.Context, r bridge.Range) (*bridge.Result, error) {
	return m.result(m.Called(ctx, r))
}

func (m *MockBridge) DocumentSymbols(ctx context.Context, filePath string) (*bridge.Result, error) {
	return m.result(m.Called(ctx, filePath))
}

func (m *MockBridge) Format(ctx context.Context, filePath string) (*bridge.Result, error) {
	return m.result(m.Called(ctx, filePath))
}

func (m *MockBridge) Diagnostics(ctx context.Context, filePath string) (*bridge.Result, error) {
	return m.result(m.Called(ctx, filePath))
}

func (m *MockBridge) WorkspaceSymbols(ctx context.Context, query string) (*bridge.Result, error) {
	return m.result(m.Called(ctx, query))
}

func (m *MockBridge) WorkspaceDiagnostics(ctx context.Context) (*bridge.Result, error) {
	return m.result(m.Called(ctx))
}

func (m *MockBridge) GetWorkspace() bridge.WorkspaceInfo {
	args := m.Called()
	return args.Get(0).(bridge.WorkspaceInfo)
}

func (m *MockBridge) SetWorkspace(ctx context.Context, path string) (bridge.WorkspaceInfo, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(bridge.WorkspaceInfo), args.Error(1)
}

// Status reports a ready bridge unless an expectation is registered.
func (m *MockBridge) Status() bridge.Status {
	if !m.expects("Status") {
		return bridge.Status{State: "ready", Ready: true}
	}
	return m.Called().Get(0).(bridge.Status)
}

// EnsureConnected is a no-op unless an expectation is registered.
func (m *MockBridge) EnsureConnected() {
	if m.expects("EnsureConnected") {
		m.Called()
	}
}

func (m *MockBridge) Invoke(ctx context.Context, tool string, args json.RawMessage) (*bridge.Result, error) {
	return m.result(m.Called(ctx, tool, args))
}

func (m *MockBridge) expects(method string) bool {
	for _, c := range m.ExpectedCalls {
		if c.Method == method {
			return true
		}
	}
	return false
}
