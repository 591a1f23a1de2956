package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/session"
)

// watchDebounce collects bursts (editor saves, cargo writes) into one
// notification.
const watchDebounce = 500 * time.Millisecond

// workspaceWatcher forwards on-disk changes of Rust sources and manifests to
// the server as workspace/didChangeWatchedFiles. Open documents keep their
// didOpen snapshot; this only helps rust-analyzer with files it reads from
// disk.
type workspaceWatcher struct {
	fs      *fsnotify.Watcher
	session *session.Session
	send    func(ctx context.Context, params any) error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newWorkspaceWatcher(s *session.Session, send func(ctx context.Context, params any) error) (*workspaceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &workspaceWatcher{
		fs:      fsw,
		session: s,
		send:    send,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := w.addTree(s.Root()); err != nil {
		cancel()
		_ = fsw.Close()
		return nil, err
	}
	go w.run()
	logger.Info("Workspace watcher started", "root", s.Root())
	return w, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "target" || name == "node_modules"
}

func watched(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".rs") || base == "Cargo.toml" || base == "Cargo.lock"
}

func (w *workspaceWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			logger.Warn("Failed to watch directory", "dir", p, "error", err)
		}
		return nil
	})
}

func (w *workspaceWatcher) run() {
	defer close(w.done)

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]int)

	for {
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !skipDir(info.Name()) {
						_ = w.addTree(ev.Name)
					}
					continue
				}
			}
			if !watched(ev.Name) {
				continue
			}
			uri, err := w.session.URIFor(ev.Name)
			if err != nil {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				pending[uri] = lsp.FileCreated
			case ev.Has(fsnotify.Write):
				if _, seen := pending[uri]; !seen {
					pending[uri] = lsp.FileChanged
				}
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				pending[uri] = lsp.FileDeleted
			default:
				continue
			}
			timer.Reset(watchDebounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			params, err := lsp.DidChangeWatchedFilesParams(pending)
			pending = make(map[string]int)
			if err != nil {
				logger.Warn("Failed to build didChangeWatchedFiles", "error", err)
				continue
			}
			if err := w.send(w.ctx, params); err != nil {
				logger.Warn("Failed to send didChangeWatchedFiles", "error", err)
				continue
			}
			logger.Debug("Sent didChangeWatchedFiles", "changes", len(params.Changes))

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("Workspace watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for its loop to exit.
func (w *workspaceWatcher) Close() {
	w.once.Do(func() {
		w.cancel()
		_ = w.fs.Close()
		<-w.done
	})
}

// notifier sends a notification to s holding the boundary, bounded by the
// request timeout.
func (b *Bridge) notifier(s *session.Session, method string) func(ctx context.Context, params any) error {
	return func(ctx context.Context, params any) error {
		ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout.D())
		defer cancel()
		if err := b.acquire(ctx); err != nil {
			return err
		}
		defer b.sem.Release(1)
		if b.Session() != s {
			return session.ErrWorkspaceChanging
		}
		return s.Notify(method, params)
	}
}
