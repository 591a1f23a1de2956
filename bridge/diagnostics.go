package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/session"
)

// rust-analyzer publishes diagnostics after cargo check finishes, which can
// lag the didOpen by seconds.
const (
	diagnosticsWindow   = 8 * time.Second
	diagnosticsInterval = 500 * time.Millisecond
)

type diagnostic struct {
	Severity     string `json:"severity"`
	Line         int64  `json:"line"`
	Character    int64  `json:"character"`
	EndLine      int64  `json:"end_line"`
	EndCharacter int64  `json:"end_character"`
	Message      string `json:"message"`
	Code         string `json:"code,omitempty"`
	Source       string `json:"source,omitempty"`
}

type severitySummary struct {
	Errors      int `json:"errors"`
	Warnings    int `json:"warnings"`
	Information int `json:"information"`
	Hints       int `json:"hints"`
}

func (s *severitySummary) add(severity int64) string {
	switch severity {
	case 1:
		s.Errors++
		return "error"
	case 2:
		s.Warnings++
		return "warning"
	case 3:
		s.Information++
		return "information"
	case 4:
		s.Hints++
		return "hint"
	default:
		// Severity is optional; a missing one reads as an error.
		s.Errors++
		return "error"
	}
}

type fileDiagnostics struct {
	File        string          `json:"file"`
	Diagnostics []diagnostic    `json:"diagnostics"`
	Summary     severitySummary `json:"summary"`
}

func formatDiagnostics(file string, diags []json.RawMessage) fileDiagnostics {
	out := fileDiagnostics{File: file, Diagnostics: make([]diagnostic, 0, len(diags))}
	for _, raw := range diags {
		d := gjson.ParseBytes(raw)
		out.Diagnostics = append(out.Diagnostics, diagnostic{
			Severity:     out.Summary.add(d.Get("severity").Int()),
			Line:         d.Get("range.start.line").Int(),
			Character:    d.Get("range.start.character").Int(),
			EndLine:      d.Get("range.end.line").Int(),
			EndCharacter: d.Get("range.end.character").Int(),
			Message:      d.Get("message").String(),
			Code:         d.Get("code").String(),
			Source:       d.Get("source").String(),
		})
	}
	return out
}

func rawList(r gjson.Result) []json.RawMessage {
	arr := r.Array()
	out := make([]json.RawMessage, 0, len(arr))
	for _, it := range arr {
		out = append(out, json.RawMessage(it.Raw))
	}
	return out
}

// fileDiagnostics returns pushed diagnostics for uri, or pulls them with
// textDocument/diagnostic when nothing was pushed yet.
func (b *Bridge) fileDiagnostics(ctx context.Context, s *session.Session, uri string) ([]json.RawMessage, error) {
	if cached, found := s.Diagnostics().Get(uri); found {
		return cached, nil
	}
	return b.pullDiagnostics(ctx, s, uri)
}

// pullDiagnostics returns the items of a textDocument/diagnostic report. A
// server without pull support yields nil.
func (b *Bridge) pullDiagnostics(ctx context.Context, s *session.Session, uri string) ([]json.RawMessage, error) {
	res, err := b.roundTrip(ctx, s, lsp.MethodDocumentDiagnostic, lsp.DocumentDiagnosticParams(uri))
	if err != nil {
		if lsp.KindOf(err) == lsp.KindUpstreamError {
			logger.Debug("Pull diagnostics unavailable", "uri", uri, "error", err)
			return nil, nil
		}
		return nil, err
	}
	items := gjson.GetBytes(res, "items")
	if !items.IsArray() {
		return nil, nil
	}
	return rawList(items), nil
}

// Diagnostics returns the diagnostics of one file. A push (even an empty
// one) answers at once; otherwise the file is pulled until a non-empty
// report arrives or the polling window closes.
func (b *Bridge) Diagnostics(ctx context.Context, filePath string) (*Result, error) {
	s, uri, err := b.document(ctx, filePath)
	if err != nil {
		return nil, err
	}
	l := newLocator(s)

	deadline := time.Now().Add(min(diagnosticsWindow, b.cfg.IndexingTimeout.D()))
	var (
		diags    []json.RawMessage
		attempts int
	)
	for {
		attempts++
		if cached, found := s.Diagnostics().Get(uri); found {
			diags = cached
			break
		}
		pulled, err := b.pullDiagnostics(ctx, s, uri)
		if err != nil {
			return nil, err
		}
		diags = pulled
		if len(pulled) > 0 || time.Now().Add(diagnosticsInterval).After(deadline) {
			break
		}
		if err := sleep(ctx, diagnosticsInterval); err != nil {
			e := lsp.NotReady("diagnostics: interrupted while waiting")
			e.Err = err
			return nil, e
		}
	}
	return &Result{
		Data:     mustMarshal(formatDiagnostics(l.file(uri), diags)),
		Empty:    len(diags) == 0,
		Attempts: attempts,
	}, nil
}

type workspaceFile struct {
	Diagnostics []diagnostic    `json:"diagnostics"`
	Summary     severitySummary `json:"summary"`
}

type workspaceSummary struct {
	TotalFiles       int `json:"total_files"`
	TotalErrors      int `json:"total_errors"`
	TotalWarnings    int `json:"total_warnings"`
	TotalInformation int `json:"total_information"`
	TotalHints       int `json:"total_hints"`
}

type workspaceDiagnostics struct {
	Workspace string                   `json:"workspace"`
	Source    string                   `json:"source"` // pull|published
	Files     map[string]workspaceFile `json:"files"`
	Summary   workspaceSummary         `json:"summary"`
}

func (w *workspaceDiagnostics) add(file string, diags []json.RawMessage) {
	if len(diags) == 0 {
		return
	}
	fd := formatDiagnostics(file, diags)
	if prev, ok := w.Files[file]; ok {
		fd.Diagnostics = append(prev.Diagnostics, fd.Diagnostics...)
		fd.Summary.Errors += prev.Summary.Errors
		fd.Summary.Warnings += prev.Summary.Warnings
		fd.Summary.Information += prev.Summary.Information
		fd.Summary.Hints += prev.Summary.Hints
		w.Summary.TotalFiles--
		w.Summary.TotalErrors -= prev.Summary.Errors
		w.Summary.TotalWarnings -= prev.Summary.Warnings
		w.Summary.TotalInformation -= prev.Summary.Information
		w.Summary.TotalHints -= prev.Summary.Hints
	}
	w.Files[file] = workspaceFile{Diagnostics: fd.Diagnostics, Summary: fd.Summary}
	w.Summary.TotalFiles++
	w.Summary.TotalErrors += fd.Summary.Errors
	w.Summary.TotalWarnings += fd.Summary.Warnings
	w.Summary.TotalInformation += fd.Summary.Information
	w.Summary.TotalHints += fd.Summary.Hints
}

// WorkspaceDiagnostics asks for a workspace/diagnostic report and falls back
// to everything published so far when the server does not support it.
func (b *Bridge) WorkspaceDiagnostics(ctx context.Context) (*Result, error) {
	s, err := b.ready()
	if err != nil {
		return nil, err
	}
	l := newLocator(s)
	out := workspaceDiagnostics{Workspace: s.Root(), Files: map[string]workspaceFile{}}

	res, err := b.roundTrip(ctx, s, lsp.MethodWorkspaceDiagnostic, lsp.WorkspaceDiagnosticParams())
	switch {
	case err == nil && gjson.GetBytes(res, "items").IsArray():
		out.Source = "pull"
		for _, report := range gjson.GetBytes(res, "items").Array() {
			out.add(l.file(report.Get("uri").String()), rawList(report.Get("items")))
		}
		// Files rust-analyzer pushed but left out of the report.
		for _, fd := range s.Diagnostics().All() {
			if _, seen := out.Files[l.file(fd.URI)]; !seen {
				out.add(l.file(fd.URI), fd.Diagnostics)
			}
		}
	case err != nil && lsp.KindOf(err) != lsp.KindUpstreamError:
		return nil, err
	default:
		if err != nil {
			logger.Debug("workspace/diagnostic unavailable, using published diagnostics", "error", err)
		}
		out.Source = "published"
		for _, fd := range s.Diagnostics().All() {
			out.add(l.file(fd.URI), fd.Diagnostics)
		}
	}
	return &Result{Data: mustMarshal(out), Empty: out.Summary.TotalFiles == 0, Attempts: 1}, nil
}

// diagnosticsInRange keeps diagnostics whose lines overlap [startLine, endLine].
func diagnosticsInRange(diags []json.RawMessage, startLine, endLine uint32) []any {
	out := make([]any, 0)
	for _, raw := range diags {
		d := gjson.ParseBytes(raw)
		if d.Get("range.start.line").Uint() <= uint64(endLine) && d.Get("range.end.line").Uint() >= uint64(startLine) {
			out = append(out, raw)
		}
	}
	return out
}
