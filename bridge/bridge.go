// Package bridge is the synchronous facade over a warm rust-analyzer
// session: argument validation, readiness gating, document opening, bounded
// retry of empty results and result simplification.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/security"
	"rockerboo/rust-analyzer-bridge/session"
)

// JSON-RPC codes rust-analyzer uses for answers invalidated by ongoing
// analysis. They are retried like empty results.
const (
	codeServerCancelled = -32802
	codeContentModified = -32801
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithWatcher enables forwarding of on-disk changes under the workspace root
// as workspace/didChangeWatchedFiles.
func WithWatcher(enabled bool) Option {
	return func(b *Bridge) { b.watch = enabled }
}

// New builds a bridge with no workspace. Operations fail NotReady until
// SetWorkspace succeeds.
func New(cfg lsp.Config, launcher lsp.Launcher, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:      cfg.Normalized(),
		launcher: launcher,
		sem:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective configuration.
func (b *Bridge) Config() lsp.Config { return b.cfg }

// Session returns the current session, or nil before the first workspace.
func (b *Bridge) Session() *session.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

func (b *Bridge) acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		e := lsp.NotReady("timed out waiting for the bridge")
		e.Err = err
		return e
	}
	return nil
}

// current returns the session that operations run against.
func (b *Bridge) current() (*session.Session, error) {
	s := b.Session()
	if s == nil {
		return nil, lsp.NotReady("no workspace set; call rust_analyzer_set_workspace first")
	}
	return s, nil
}

func gate(s *session.Session) error {
	if s.Ready() {
		return nil
	}
	if err := s.Err(); err != nil {
		e := lsp.NotReady("language server session failed; set the workspace again")
		e.Err = err
		return e
	}
	return lsp.NotReady("language server is %s", s.State())
}

// roundTrip performs one request while holding the boundary. The session
// must still be the current one once the boundary is acquired.
func (b *Bridge) roundTrip(ctx context.Context, s *session.Session, method string, params any) (json.RawMessage, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	if b.Session() != s {
		return nil, session.ErrWorkspaceChanging
	}
	return s.Call(ctx, method, params)
}

// open sends didOpen for path at most once per session, holding the boundary.
func (b *Bridge) open(ctx context.Context, s *session.Session, path string) (string, error) {
	if err := b.acquire(ctx); err != nil {
		return "", err
	}
	defer b.sem.Release(1)

	if b.Session() != s {
		return "", session.ErrWorkspaceChanging
	}
	return s.EnsureOpen(ctx, path)
}

// document validates filePath, gates on readiness and opens the file. It
// returns the session the rest of the operation must use and the URI.
func (b *Bridge) document(ctx context.Context, filePath string) (*session.Session, string, error) {
	s, err := b.current()
	if err != nil {
		return nil, "", err
	}
	path, err := resolveFile(s.Root(), filePath)
	if err != nil {
		return nil, "", err
	}
	if err := gate(s); err != nil {
		return nil, "", err
	}
	uri, err := b.open(ctx, s, path)
	if err != nil {
		return nil, "", err
	}
	return s, uri, nil
}

// ready returns the current session when it can take requests.
func (b *Bridge) ready() (*session.Session, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}
	if err := gate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// attemptFunc performs one try of a retryable operation. done reports that
// res is final even if it is empty.
type attemptFunc func(ctx context.Context) (res json.RawMessage, done bool, err error)

// poll repeats attempt while it yields an empty or transiently failing
// answer. It stops after MaxRetries attempts or IndexingTimeout, whichever
// comes first, and then returns the last empty answer as success. Once s
// reports indexing idle an empty answer is final.
func (b *Bridge) poll(ctx context.Context, s *session.Session, op string, attempt attemptFunc) (*Result, error) {
	start := time.Now()
	deadline := start.Add(b.cfg.IndexingTimeout.D())
	interval := b.cfg.RetryInterval.D()

	var last json.RawMessage
	for n := 1; ; n++ {
		res, done, err := attempt(ctx)
		if err == nil && (done || !isEmpty(res)) {
			if n > 1 {
				logger.Info("Indexing complete, returning results", "operation", op, "attempts", n,
					"elapsed", time.Since(start).Round(time.Millisecond).String())
			}
			return &Result{Data: res, Empty: isEmpty(res), Attempts: n}, nil
		}
		if err != nil && !transient(err) {
			return nil, err
		}
		if err == nil {
			last = res
			if s.Progress().State() == lsp.IndexingIdle {
				return &Result{Data: res, Empty: true, Attempts: n}, nil
			}
		}

		if n >= b.cfg.MaxRetries || time.Now().Add(interval).After(deadline) {
			if last == nil {
				return nil, err
			}
			logger.Warn("Giving up on empty result", "operation", op, "attempts", n,
				"elapsed", time.Since(start).Round(time.Millisecond).String())
			return &Result{Data: last, Empty: true, Attempts: n}, nil
		}
		if n == 1 {
			logger.Info("Waiting for rust-analyzer to complete indexing", "operation", op,
				"timeout", b.cfg.IndexingTimeout.D().String())
		}
		if err := sleep(ctx, interval); err != nil {
			e := lsp.NotReady("%s: interrupted while waiting for indexing", op)
			e.Err = err
			return nil, e
		}
		interval *= 2
		if ceiling := b.cfg.MaxRetryInterval.D(); interval > ceiling {
			interval = ceiling
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transient reports upstream errors that mean "ask again later".
func transient(err error) bool {
	var e *lsp.Error
	if !errors.As(err, &e) || e.Kind != lsp.KindUpstreamError {
		return false
	}
	return e.Code == codeContentModified || e.Code == codeServerCancelled
}

// GetWorkspace reports the current root and whether a session is running.
func (b *Bridge) GetWorkspace() WorkspaceInfo {
	s := b.Session()
	if s == nil {
		return WorkspaceInfo{}
	}
	return WorkspaceInfo{Workspace: s.Root(), Initialized: s.Ready(), State: s.State()}
}

// SetWorkspace points the bridge at a new root. Setting the current root of
// a ready session is a no-op. Otherwise the old session is closed (pending
// requests fail "workspace changing") and a new one is started while the
// boundary is held. A failed start leaves the failed session in place so
// Status can report it.
func (b *Bridge) SetWorkspace(ctx context.Context, path string) (WorkspaceInfo, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return WorkspaceInfo{}, err
	}

	if info, ok := b.unchanged(root); ok {
		return info, nil
	}

	if err := b.acquire(ctx); err != nil {
		return WorkspaceInfo{}, err
	}
	defer b.sem.Release(1)

	// A caller queued behind a handshake for the same root finds it done.
	if info, ok := b.unchanged(root); ok {
		return info, nil
	}

	// Closing cancels the watcher's own acquire, so this cannot deadlock
	// while the boundary is held.
	b.swapWatcher(nil)

	old := b.Session()
	if old != nil {
		logger.Info("Replacing workspace", "old", old.Root(), "new", root)
		old.Close(session.ErrWorkspaceChanging)
	}

	s, err := session.New(b.cfg, b.launcher, root)
	if err != nil {
		return WorkspaceInfo{}, lsp.InvalidArgument("%v", err)
	}
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
	b.resetWarmup()

	if err := s.Start(ctx); err != nil {
		logger.Error("Failed to start language server", "root", root, "error", err)
		return WorkspaceInfo{Workspace: root, State: s.State()}, err
	}

	if b.watch {
		w, err := newWorkspaceWatcher(s, b.notifier(s, lsp.MethodDidChangeWatchedFiles))
		if err != nil {
			logger.Warn("Workspace watcher disabled", "root", root, "error", err)
		} else {
			b.swapWatcher(w)
		}
	}

	changed := true
	return WorkspaceInfo{
		Workspace:   root,
		Initialized: true,
		State:       s.State(),
		Changed:     &changed,
		Message:     "Workspace set to: " + root,
	}, nil
}

// unchanged reports the no-op answer when root is the current ready session.
func (b *Bridge) unchanged(root string) (WorkspaceInfo, bool) {
	s := b.Session()
	if s == nil || s.Root() != root || !s.Ready() {
		return WorkspaceInfo{}, false
	}
	changed := false
	return WorkspaceInfo{
		Workspace:   root,
		Initialized: true,
		State:       s.State(),
		Changed:     &changed,
		Message:     "Already initialized: " + root + " (skipped)",
	}, true
}

// swapWatcher installs w and closes the watcher it replaces.
func (b *Bridge) swapWatcher(w *workspaceWatcher) {
	b.mu.Lock()
	old := b.watcher
	b.watcher = w
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// resolveRoot makes path absolute and resolves symlinks when it exists. A
// missing directory is left for the session to reject.
func resolveRoot(path string) (string, error) {
	if path == "" {
		return "", lsp.InvalidArgument("workspace_path is required")
	}
	abs, err := security.GetCleanAbsPath(path)
	if err != nil {
		return "", lsp.InvalidArgument("workspace_path: %v", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", lsp.InvalidArgument("workspace_path: %v", err)
	}
	return abs, nil
}

// Status combines the session snapshot with warm-up state.
func (b *Bridge) Status() Status {
	st := Status{State: "stopped", Warmup: b.WarmupStatus(), Mode: b.cfg.GetMode()}
	b.mu.RLock()
	s := b.session
	st.Watcher = b.watcher != nil
	b.mu.RUnlock()
	if s == nil {
		return st
	}

	snap := s.Status()
	st.Session = &snap
	switch snap.State {
	case session.StateReady:
		st.Ready = true
		st.State = "ready"
		if snap.Indexing == lsp.IndexingActive {
			st.State = "indexing"
		}
	case session.StateError:
		st.State = "error"
	default:
		st.State = "initializing"
	}
	return st
}

// Close shuts the current session down.
func (b *Bridge) Close() {
	b.mu.Lock()
	s, w := b.session, b.watcher
	b.watcher = nil
	b.mu.Unlock()
	if w != nil {
		w.Close()
	}
	if s != nil {
		s.Close(lsp.NotReady("bridge shutting down"))
	}
}
