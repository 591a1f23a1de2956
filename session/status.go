package session

import (
	"encoding/json"
	"time"

	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/utils"
)

// Status is a point-in-time view of a session for status tooling.
type Status struct {
	Workspace       string               `json:"workspace"`
	State           State                `json:"state"`
	Indexing        lsp.IndexingState    `json:"indexing"`
	Progress        lsp.ProgressSnapshot `json:"progress"`
	OpenDocuments   []string             `json:"open_documents"`
	DiagnosticFiles int                  `json:"diagnostic_files"`
	PendingRequests int                  `json:"pending_requests"`
	PID             int                  `json:"pid,omitempty"`
	Endpoint        string               `json:"endpoint,omitempty"`
	ServerName      string               `json:"server_name,omitempty"`
	ServerVersion   string               `json:"server_version,omitempty"`
	LastError       string               `json:"last_error,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	Uptime          string               `json:"uptime,omitempty"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		Workspace:     s.root,
		State:         s.state,
		ServerName:    s.serverName,
		ServerVersion: s.serverVer,
		StartedAt:     s.startedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.proc != nil {
		st.PID = s.proc.Pid()
		st.Endpoint = s.proc.Describe()
	}
	if s.rpc != nil {
		st.PendingRequests = s.rpc.Pending()
	}
	if !s.readyAt.IsZero() && s.state == StateReady {
		st.Uptime = time.Since(s.readyAt).Round(time.Second).String()
	}
	s.mu.RUnlock()

	st.Progress = s.progress.Snapshot()
	st.Indexing = st.Progress.State
	st.DiagnosticFiles = len(s.diagnostics.All())

	docs := s.Documents()
	st.OpenDocuments = make([]string, len(docs))
	for i, d := range docs {
		st.OpenDocuments[i] = utils.DisplayPath(s.root, d.Path)
	}
	return st
}

// ServerCapabilities returns the capabilities from the initialize result.
func (s *Session) ServerCapabilities() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverCaps
}
