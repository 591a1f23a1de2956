package lsp

import (
	"encoding/json"

	"github.com/myleshyson/lsprotocol-go/protocol"
	"github.com/sourcegraph/jsonrpc2"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/utils"
)

// ClientHandler routes notifications and server-to-client requests into the
// session's progress tracker and diagnostics store.
type ClientHandler struct {
	progress    *ProgressTracker
	diagnostics *DiagnosticsStore
	paths       *utils.PathMapper
}

// NewClientHandler builds a handler feeding progress and diagnostics.
func NewClientHandler(progress *ProgressTracker, diagnostics *DiagnosticsStore) *ClientHandler {
	return &ClientHandler{progress: progress, diagnostics: diagnostics}
}

// WithPathMapper makes published diagnostic URIs local before storing them.
func (h *ClientHandler) WithPathMapper(m *utils.PathMapper) *ClientHandler {
	h.paths = m
	return h
}

func (h *ClientHandler) HandleInbound(c *Correlator, f *Frame) {
	switch f.Method {
	case "$/progress":
		if f.Params == nil {
			return
		}
		var params protocol.ProgressParams
		if err := json.Unmarshal(*f.Params, &params); err != nil {
			logger.Debug("Failed to unmarshal progress params", "error", err)
			return
		}
		if h.progress != nil {
			h.progress.Update(params)
		}

	case "experimental/serverStatus":
		if f.Params == nil || h.progress == nil {
			return
		}
		var status struct {
			Health    string `json:"health"`
			Quiescent bool   `json:"quiescent"`
			Message   string `json:"message,omitempty"`
		}
		if err := json.Unmarshal(*f.Params, &status); err == nil {
			h.progress.SetQuiescent(status.Quiescent)
			if status.Health != "ok" && status.Message != "" {
				logger.Warn("Server status", "health", status.Health, "message", status.Message)
			}
		}

	case "textDocument/publishDiagnostics":
		if f.Params == nil || h.diagnostics == nil {
			return
		}
		var params struct {
			URI         string            `json:"uri"`
			Version     *int32            `json:"version,omitempty"`
			Diagnostics []json.RawMessage `json:"diagnostics"`
		}
		if err := json.Unmarshal(*f.Params, &params); err != nil {
			logger.Debug("Failed to unmarshal diagnostics", "error", err)
			return
		}
		uri := params.URI
		if h.paths != nil {
			uri = h.paths.ToLocalURI(uri)
		}
		h.diagnostics.Publish(uri, params.Diagnostics)
		logger.Debug("Diagnostics published", "uri", uri, "count", len(params.Diagnostics))

	case "window/showMessage", "window/logMessage":
		if f.Params == nil {
			return
		}
		var params struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(*f.Params, &params); err == nil {
			// MessageType 1 = Error, 2 = Warning.
			if params.Type == 1 {
				logger.Warn("Server message", "method", f.Method, "message", params.Message)
			} else {
				logger.Debug("Server message", "method", f.Method, "message", params.Message)
			}
		}

	case "window/workDoneProgress/create":
		if f.Params != nil && h.progress != nil {
			var params protocol.WorkDoneProgressCreateParams
			if err := json.Unmarshal(*f.Params, &params); err == nil {
				h.progress.RegisterToken(params.Token)
			}
		}
		h.reply(c, f, nil)

	case "client/registerCapability", "client/unregisterCapability":
		h.reply(c, f, nil)

	case "workspace/configuration":
		// One null settings entry per requested item.
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		if f.Params != nil {
			_ = json.Unmarshal(*f.Params, &params)
		}
		result := make([]any, len(params.Items))
		h.reply(c, f, result)

	default:
		// Never answer a notification, even with an error.
		if f.IsNotification() {
			logUnhandledNotification(f.Method, f.Params)
			return
		}
		logger.Error("Unhandled server request", "method", f.Method)
		if err := c.ReplyError(*f.ID, jsonrpc2.CodeMethodNotFound, "Method not found"); err != nil {
			logger.Error("Failed to reply with error", "method", f.Method, "error", err)
		}
	}
}

func (h *ClientHandler) reply(c *Correlator, f *Frame, result any) {
	if !f.IsServerRequest() {
		return
	}
	if err := c.Reply(*f.ID, result); err != nil {
		logger.Debug("Failed to reply to server request", "method", f.Method, "error", err)
	}
}
