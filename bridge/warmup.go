package bridge

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
	"rockerboo/rust-analyzer-bridge/session"
)

const (
	warmupThrottle = 10 * time.Second
	warmupMaxFiles = 5
	// warmupSettle is how long indexing must stay quiet before warm-up
	// counts as done.
	warmupSettle = 2 * time.Second
)

// StartWarmup opens a few source files and waits for indexing to settle in
// the background. It is non-blocking, safe to call repeatedly and throttled.
func (b *Bridge) StartWarmup() {
	b.warmupMu.Lock()
	defer b.warmupMu.Unlock()

	now := time.Now()
	if !b.warmupLastAttempt.IsZero() && now.Sub(b.warmupLastAttempt) < warmupThrottle {
		return
	}
	b.warmupLastAttempt = now
	if b.warmupDone || b.warmupRunning {
		return
	}
	b.warmupRunning = true
	if b.warmupStartedAt.IsZero() {
		b.warmupStartedAt = now
	}
	b.warmupErr = ""

	go b.runWarmup(context.Background())
}

// SyncWarmup runs warm-up in the caller's goroutine.
func (b *Bridge) SyncWarmup(ctx context.Context) error {
	b.warmupMu.Lock()
	if b.warmupDone || b.warmupRunning {
		b.warmupMu.Unlock()
		return nil
	}
	b.warmupRunning = true
	now := time.Now()
	b.warmupLastAttempt = now
	if b.warmupStartedAt.IsZero() {
		b.warmupStartedAt = now
	}
	b.warmupErr = ""
	b.warmupMu.Unlock()

	return b.runWarmup(ctx)
}

func (b *Bridge) finishWarmup(err error) {
	b.warmupMu.Lock()
	defer b.warmupMu.Unlock()
	b.warmupRunning = false
	b.warmupFinishedAt = time.Now()
	if err != nil {
		b.warmupErr = err.Error()
		b.warmupDone = false
	} else {
		b.warmupErr = ""
		b.warmupDone = true
	}
}

// resetWarmup forgets warm-up state when the workspace changes. A warm-up
// still running against the old session discards its own outcome.
func (b *Bridge) resetWarmup() {
	b.warmupMu.Lock()
	defer b.warmupMu.Unlock()
	b.warmupRunning = false
	b.warmupDone = false
	b.warmupErr = ""
	b.warmupStartedAt = time.Time{}
	b.warmupFinishedAt = time.Time{}
	b.warmupLastAttempt = time.Time{}
}

func (b *Bridge) runWarmup(ctx context.Context) (err error) {
	s, err := b.ready()
	if err != nil {
		b.finishWarmup(err)
		return err
	}
	root := s.Root()
	defer func() {
		if b.Session() != s {
			logger.Debug("Warm-up: workspace replaced, discarding result", "root", root)
			return
		}
		b.finishWarmup(err)
	}()
	logger.Info("Warm-up: starting", "root", root)

	files := warmupFiles(root)
	for _, f := range files {
		if b.Session() != s {
			return session.ErrWorkspaceChanging
		}
		// Best effort: didOpen plus documentSymbol gets the crate parsed.
		if _, err := b.DocumentSymbols(ctx, f); err != nil {
			logger.Debug("Warm-up: document symbols failed", "file", f, "error", err)
			if lsp.KindOf(err) == lsp.KindNotReady {
				return err
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.IndexingTimeout.D())
	defer cancel()
	progress := s.Progress()
	quietSince := time.Now()
	for {
		changed := progress.Changed()
		if progress.IsIndexing() {
			quietSince = time.Now()
		} else if time.Since(quietSince) >= warmupSettle {
			break
		}
		wait := time.NewTimer(warmupSettle - time.Since(quietSince))
		select {
		case <-changed:
		case <-wait.C:
		case <-ctx.Done():
			wait.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Warn("Warm-up: indexing still running at timeout", "root", root,
					"timeout", b.cfg.IndexingTimeout.D().String())
				return nil
			}
			return ctx.Err()
		}
		wait.Stop()
	}

	logger.Info("Warm-up: finished", "root", root, "files", len(files))
	return nil
}

// warmupFiles picks a few Rust sources, crate roots first.
func warmupFiles(root string) []string {
	var files []string
	for _, name := range []string{"src/lib.rs", "src/main.rs"} {
		if _, err := resolveFile(root, name); err == nil {
			files = append(files, name)
		}
	}
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= warmupMaxFiles {
			return fs.SkipAll
		}
		if !strings.HasSuffix(d.Name(), ".rs") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, f := range files {
			if f == rel {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	return files
}
