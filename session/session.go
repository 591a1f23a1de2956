// Package session owns one language server instance for one workspace root:
// the initialize handshake, the open-document set and the lifecycle state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/utils"
)

// State is the lifecycle state of a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateError         State = "error"
)

// ErrWorkspaceChanging fails requests still pending when a session is
// replaced.
var ErrWorkspaceChanging = lsp.NotReady("workspace changing")

// Document is an entry in the open-document set. Documents are never
// closed for the lifetime of the session.
type Document struct {
	Path     string
	URI      string
	Version  int32
	OpenedAt time.Time
}

// Session is a single language server process bound to a workspace root.
// It is safe for concurrent use; serialization of round trips is the
// caller's concern.
type Session struct {
	cfg      lsp.Config
	launcher lsp.Launcher
	root     string
	paths    *utils.PathMapper

	progress    *lsp.ProgressTracker
	diagnostics *lsp.DiagnosticsStore

	mu         sync.RWMutex
	state      State
	lastErr    error
	startedAt  time.Time
	readyAt    time.Time
	proc       lsp.Process
	rpc        *lsp.Correlator
	serverName string
	serverVer  string
	serverCaps json.RawMessage
	closing    bool

	docsMu sync.Mutex
	docs   map[string]*Document
}

// New creates a session in the uninitialized state. root should already be
// absolute; it is cleaned but not resolved.
func New(cfg lsp.Config, launcher lsp.Launcher, root string) (*Session, error) {
	cfg = cfg.Normalized()
	s := &Session{
		cfg:         cfg,
		launcher:    launcher,
		root:        filepath.Clean(root),
		progress:    lsp.NewProgressTracker(),
		diagnostics: lsp.NewDiagnosticsStore(),
		state:       StateUninitialized,
		docs:        make(map[string]*Document),
	}
	if pm := cfg.PathMapping; pm != nil && pm.LocalRoot != "" {
		m, err := utils.NewPathMapper(pm.LocalRoot, pm.RemoteRoot)
		if err != nil {
			return nil, fmt.Errorf("path mapping: %w", err)
		}
		s.paths = m
	}
	return s, nil
}

// Root returns the workspace root.
func (s *Session) Root() string { return s.root }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that moved the session to StateError, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Ready reports whether requests may be sent.
func (s *Session) Ready() bool { return s.State() == StateReady }

// Progress exposes the $/progress tracker.
func (s *Session) Progress() *lsp.ProgressTracker { return s.progress }

// Diagnostics exposes the publishDiagnostics cache.
func (s *Session) Diagnostics() *lsp.DiagnosticsStore { return s.diagnostics }

// Start launches the server and performs the initialize handshake. On any
// failure the session is left in StateError and the process is killed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session already started (state %s)", st)
	}
	s.state = StateInitializing
	s.startedAt = time.Now()
	s.mu.Unlock()

	logger.Info("Starting language server session", "root", s.root, "mode", s.cfg.GetMode())

	if err := s.start(ctx); err != nil {
		s.fail(err)
		s.teardown(err)
		return err
	}

	s.mu.Lock()
	s.state = StateReady
	s.readyAt = time.Now()
	s.mu.Unlock()
	logger.Info("Language server session ready", "root", s.root, "server", s.serverName, "version", s.serverVer,
		"elapsed", time.Since(s.startedAt).String())
	return nil
}

func (s *Session) start(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return lsp.InvalidArgument("workspace %s: %v", s.root, err)
	}
	if !info.IsDir() {
		return lsp.InvalidArgument("workspace %s is not a directory", s.root)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout.D())
	defer cancel()

	proc, err := s.launcher.Launch(ctx, s.root)
	if err != nil {
		return lsp.TransportClosed(fmt.Errorf("launch language server: %w", err))
	}

	handler := lsp.NewClientHandler(s.progress, s.diagnostics).WithPathMapper(s.paths)
	rpc := lsp.NewCorrelator(lsp.NewTransport(proc), handler)

	s.mu.Lock()
	s.proc = proc
	s.rpc = rpc
	s.mu.Unlock()

	rpc.Start()
	go s.monitor(proc, rpc)

	rootURI, err := s.URIFor(s.root)
	if err != nil {
		return err
	}
	rootPath := s.root
	if s.paths.IsEnabled() {
		if rp, err := s.paths.ToRemotePath(s.root); err == nil {
			rootPath = rp
		}
	}

	result, err := rpc.Call(ctx, lsp.MethodInitialize, initializeParams(s.root, rootURI, rootPath, s.cfg.InitializationOptions))
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.mu.Lock()
	s.serverName = gjson.GetBytes(result, "serverInfo.name").String()
	s.serverVer = gjson.GetBytes(result, "serverInfo.version").String()
	if caps := gjson.GetBytes(result, "capabilities"); caps.Exists() {
		s.serverCaps = json.RawMessage(caps.Raw)
	}
	s.mu.Unlock()

	if err := rpc.Notify(lsp.MethodInitialized, map[string]any{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// monitor moves the session to StateError when the process or the read
// loop goes away underneath it.
func (s *Session) monitor(proc lsp.Process, rpc *lsp.Correlator) {
	select {
	case <-rpc.Done():
	case <-proc.Exited():
		rpc.Close(lsp.TransportClosed(errors.New("language server exited")))
	}
	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		return
	}
	err := rpc.Err()
	if err == nil {
		err = lsp.TransportClosed(errors.New("language server exited"))
	}
	logger.Error("Language server connection lost", "root", s.root, "error", err)
	s.fail(err)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		return
	}
	s.state = StateError
	s.lastErr = err
}

// gate returns the correlator when the session can take requests.
func (s *Session) gate(method string) (*lsp.Correlator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateReady:
		return s.rpc, nil
	case StateError:
		e := lsp.NotReady("language server session failed; set the workspace again")
		e.Method = method
		e.Err = s.lastErr
		return nil, e
	default:
		e := lsp.NotReady("language server is %s", s.state)
		e.Method = method
		return nil, e
	}
}

// Call sends one request bounded by the configured request timeout. A dead
// channel moves the session to StateError; the caller gets the same kind.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rpc, err := s.gate(method)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout.D())
	defer cancel()

	start := time.Now()
	result, err := rpc.Call(ctx, method, params)
	if err != nil {
		switch lsp.KindOf(err) {
		case lsp.KindTransportClosed, lsp.KindProtocolViolation:
			s.fail(err)
		}
		logger.Debug("Request failed", "method", method, "elapsed", time.Since(start).String(), "error", err)
		return nil, err
	}
	logger.Debug("Request completed", "method", method, "elapsed", time.Since(start).String(), "bytes", len(result))
	return result, nil
}

// Notify sends a notification if the session is ready.
func (s *Session) Notify(method string, params any) error {
	rpc, err := s.gate(method)
	if err != nil {
		return err
	}
	if err := rpc.Notify(method, params); err != nil {
		switch lsp.KindOf(err) {
		case lsp.KindTransportClosed, lsp.KindProtocolViolation:
			s.fail(err)
		}
		return err
	}
	return nil
}

// URIFor converts a local path to the URI the server understands.
func (s *Session) URIFor(path string) (string, error) {
	if s.paths.IsEnabled() {
		return s.paths.ToRemoteURI(path)
	}
	return utils.PathToFileURI(path)
}

// LocalPath converts a server URI back to a local filesystem path.
func (s *Session) LocalPath(uri string) string {
	if s.paths.IsEnabled() {
		uri = s.paths.ToLocalURI(uri)
	}
	return utils.URIToFilePath(uri)
}

// EnsureOpen sends textDocument/didOpen for path the first time it is seen
// and returns the document URI. It then waits DocumentOpenDelay so the
// server can analyze the file before the first query.
func (s *Session) EnsureOpen(ctx context.Context, path string) (string, error) {
	path = filepath.Clean(path)

	s.docsMu.Lock()
	if doc, ok := s.docs[path]; ok {
		s.docsMu.Unlock()
		return doc.URI, nil
	}

	uri, err := s.URIFor(path)
	if err != nil {
		s.docsMu.Unlock()
		return "", lsp.InvalidArgument("%s: %v", path, err)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		s.docsMu.Unlock()
		return "", lsp.InvalidArgument("read %s: %v", path, err)
	}
	if err := s.Notify(lsp.MethodDidOpen, lsp.DidOpenParams(uri, string(text))); err != nil {
		s.docsMu.Unlock()
		return "", err
	}
	s.docs[path] = &Document{Path: path, URI: uri, Version: 1, OpenedAt: time.Now()}
	s.docsMu.Unlock()

	logger.Debug("Opened document", "path", path, "bytes", len(text))

	if d := s.cfg.DocumentOpenDelay.D(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return uri, ctx.Err()
		}
	}
	return uri, nil
}

// IsOpen reports whether path has been sent to the server.
func (s *Session) IsOpen(path string) bool {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	_, ok := s.docs[filepath.Clean(path)]
	return ok
}

// Documents returns the open documents sorted by path.
func (s *Session) Documents() []Document {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close asks the server to shut down, then kills it. Pending requests fail
// with reason (ErrWorkspaceChanging when nil).
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrWorkspaceChanging
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	wasReady := s.state == StateReady
	rpc := s.rpc
	s.mu.Unlock()

	if wasReady && rpc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.D())
		if _, err := rpc.Call(ctx, lsp.MethodShutdown, nil); err != nil {
			logger.Debug("Shutdown request failed", "root", s.root, "error", err)
		} else if err := rpc.Notify(lsp.MethodExit, nil); err != nil {
			logger.Debug("Exit notification failed", "root", s.root, "error", err)
		}
		cancel()
	}

	s.teardown(reason)

	s.mu.Lock()
	if s.state != StateError {
		s.state = StateError
		s.lastErr = lsp.NotReady("session closed")
	}
	s.mu.Unlock()
	logger.Info("Language server session closed", "root", s.root)
}

// teardown fails pending calls and stops the process.
func (s *Session) teardown(reason error) {
	s.mu.Lock()
	s.closing = true
	rpc, proc := s.rpc, s.proc
	s.mu.Unlock()

	if rpc != nil {
		rpc.Close(reason)
	}
	if proc == nil {
		return
	}
	_ = proc.Close()
	select {
	case <-proc.Exited():
	case <-time.After(s.cfg.ShutdownTimeout.D()):
		logger.Warn("Language server did not exit, killing", "pid", proc.Pid())
	}
	if err := proc.Kill(); err != nil {
		logger.Warn("Failed to kill language server", "pid", proc.Pid(), "error", err)
	}
}
