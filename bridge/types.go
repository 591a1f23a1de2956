package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/session"
)

// Bridge is the synchronous facade over one rust-analyzer session. Every
// round trip to the server, every didOpen and every workspace replacement
// holds the same one-slot semaphore.
type Bridge struct {
	cfg      lsp.Config
	launcher lsp.Launcher
	sem      *semaphore.Weighted

	mu      sync.RWMutex
	session *session.Session
	watcher *workspaceWatcher
	watch   bool

	// Auto-connect support: start the initial workspace once, lazily.
	autoConnectMu          sync.Mutex
	autoConnectRoot        string
	autoConnectStartedAt   time.Time
	autoConnectLastAttempt time.Time

	// Warm-up support: open a few files and wait for indexing to settle.
	warmupMu          sync.Mutex
	warmupStartedAt   time.Time
	warmupFinishedAt  time.Time
	warmupLastAttempt time.Time
	warmupRunning     bool
	warmupDone        bool
	warmupErr         string
}

// Result is the outcome of one operation. Empty is set when a retryable
// operation exhausted its polling budget and Data is the last empty answer.
type Result struct {
	Data     json.RawMessage `json:"result"`
	Empty    bool            `json:"empty,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

// Position addresses a cursor in a file. FilePath may be absolute or
// relative to the workspace root; Line and Character are 0-based.
type Position struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// Range addresses a span in a file.
type Range struct {
	FilePath     string `json:"file_path"`
	Line         int    `json:"line"`
	Character    int    `json:"character"`
	EndLine      int    `json:"end_line"`
	EndCharacter int    `json:"end_character"`
}

// WorkspaceInfo answers get_workspace and set_workspace.
type WorkspaceInfo struct {
	Workspace   string        `json:"workspace"`
	Initialized bool          `json:"initialized"`
	State       session.State `json:"state,omitempty"`
	Changed     *bool         `json:"changed,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// WarmupState reports background warm-up progress.
type WarmupState struct {
	Running    bool      `json:"running"`
	Done       bool      `json:"done"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Status is the bridge-level status: the session snapshot plus warm-up.
type Status struct {
	State   string          `json:"state"` // stopped|error|indexing|ready|initializing
	Ready   bool            `json:"ready"`
	Session *session.Status `json:"session,omitempty"`
	Warmup  WarmupState     `json:"warmup"`
	Mode    string          `json:"mode"`
	Watcher bool            `json:"watcher"`
}

// WarmupStatus returns current warm-up state.
func (b *Bridge) WarmupStatus() WarmupState {
	b.warmupMu.Lock()
	defer b.warmupMu.Unlock()
	return WarmupState{
		Running:    b.warmupRunning,
		Done:       b.warmupDone,
		Error:      b.warmupErr,
		StartedAt:  b.warmupStartedAt,
		FinishedAt: b.warmupFinishedAt,
	}
}
