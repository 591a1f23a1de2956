package bridge

import (
	"context"
	"os"
	"strings"
	"time"

	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/session"
)

// autoConnectThrottle is the minimum gap between background attempts.
const autoConnectThrottle = 5 * time.Second

// AutoConnectRoot returns the workspace to start without an explicit
// set_workspace: RUST_ANALYZER_WORKSPACE when set, otherwise fallback.
func AutoConnectRoot(fallback string) string {
	if raw := strings.TrimSpace(os.Getenv("RUST_ANALYZER_WORKSPACE")); raw != "" {
		return raw
	}
	return fallback
}

// StartAutoConnect starts root in the background and then warms it up. It
// is non-blocking, safe to call repeatedly and throttled so a failed start
// can be retried later.
func (b *Bridge) StartAutoConnect(root string) {
	b.autoConnectMu.Lock()
	defer b.autoConnectMu.Unlock()

	now := time.Now()
	if !b.autoConnectLastAttempt.IsZero() && now.Sub(b.autoConnectLastAttempt) < autoConnectThrottle {
		return
	}
	b.autoConnectLastAttempt = now
	if b.autoConnectStartedAt.IsZero() {
		b.autoConnectStartedAt = now
	}
	if root != "" {
		b.autoConnectRoot = root
	}
	root = b.autoConnectRoot
	if root == "" {
		return
	}

	logger.Info("Auto-connect: starting workspace", "root", root)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.InitTimeout.D())
		defer cancel()
		if _, err := b.SetWorkspace(ctx, root); err != nil {
			logger.Error("Auto-connect: failed to start workspace", "root", root, "error", err)
			return
		}
		logger.Info("Auto-connect: workspace ready", "root", root)
		b.StartWarmup()
	}()
}

// SyncAutoConnect starts root and blocks until the handshake is done. Warm-up
// is left to the background so the caller is not held for indexing.
func (b *Bridge) SyncAutoConnect(ctx context.Context, root string) error {
	b.autoConnectMu.Lock()
	now := time.Now()
	b.autoConnectLastAttempt = now
	if b.autoConnectStartedAt.IsZero() {
		b.autoConnectStartedAt = now
	}
	b.autoConnectRoot = root
	b.autoConnectMu.Unlock()

	logger.Info("Sync auto-connect: starting workspace", "root", root)
	if _, err := b.SetWorkspace(ctx, root); err != nil {
		logger.Error("Sync auto-connect: failed to start workspace", "root", root, "error", err)
		return err
	}
	return nil
}

// EnsureConnected retries the last auto-connect root when no session is
// ready. Tool handlers call it before reporting NotReady.
func (b *Bridge) EnsureConnected() {
	if s := b.Session(); s != nil && (s.Ready() || s.State() == session.StateInitializing) {
		return
	}
	b.autoConnectMu.Lock()
	root := b.autoConnectRoot
	b.autoConnectMu.Unlock()
	if root != "" {
		b.StartAutoConnect("")
	}
}
