package tools

import (
	"encoding/json"
	"time"

	bridgepkg "rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/lsp"

	"github.com/mark3labs/mcp-go/mcp"
)

// startupGrace is how long a tool call waits for a session that is still
// initializing before answering NotReady.
var startupGrace = 2 * time.Second

const startupPoll = 100 * time.Millisecond

// NotReadyResponse is the body returned when a tool runs before the
// language server can answer.
type NotReadyResponse struct {
	Error        string                `json:"error"`
	State        string                `json:"state"`
	Workspace    string                `json:"workspace,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	Warmup       bridgepkg.WarmupState `json:"warmup"`
	Progress     *lsp.ProgressSnapshot `json:"progress,omitempty"`
	RetryAfterMs int                   `json:"retry_after_ms,omitempty"`
	Hint         string                `json:"hint,omitempty"`
}

// CheckReadyOrReturn kicks a background reconnect when no session is
// running and gives a starting session a short head start. It returns
// (nil, true) when the tool may proceed. "indexing" counts as ready; the
// bridge retries empty answers while rust-analyzer catches up.
func CheckReadyOrReturn(bridge interfaces.BridgeInterface) (*mcp.CallToolResult, bool) {
	bridge.EnsureConnected()

	status := bridge.Status()
	deadline := time.Now().Add(startupGrace)
	for status.State == "initializing" && time.Now().Before(deadline) {
		time.Sleep(startupPoll)
		status = bridge.Status()
	}
	if status.Ready {
		return nil, true
	}

	resp := NotReadyResponse{
		Error:  "NotReady: language server is " + status.State,
		State:  status.State,
		Warmup: status.Warmup,
	}
	switch status.State {
	case "stopped":
		resp.Hint = "call rust_analyzer_set_workspace with the crate or workspace root"
	case "error":
		resp.Hint = "the language server failed; call rust_analyzer_set_workspace again"
	default:
		resp.RetryAfterMs = 2000
	}
	if s := status.Session; s != nil {
		resp.Workspace = s.Workspace
		resp.LastError = s.LastError
		resp.Progress = &s.Progress
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(resp.Error), false
	}
	return mcp.NewToolResultError(string(payload)), false
}
