package lsp

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"rockerboo/rust-analyzer-bridge/logger"
)

type unhandledNotifLevel string

const (
	unhandledNotifOff   unhandledNotifLevel = "off"
	unhandledNotifDebug unhandledNotifLevel = "debug"
	unhandledNotifInfo  unhandledNotifLevel = "info"
)

type unhandledNotifConfig struct {
	level         unhandledNotifLevel
	window        time.Duration
	burstPerKey   int
	maxParamBytes int
}

type unhandledNotifBucket struct {
	windowStart time.Time
	emitted     int
	suppressed  int
	suppressMsg bool
}

// unhandledNotifLimiter rate-limits log lines for notifications nobody
// consumes. rust-analyzer can emit bursts of them while indexing.
type unhandledNotifLimiter struct {
	cfg     unhandledNotifConfig
	now     func() time.Time
	emit    func(level unhandledNotifLevel, msg string, kv ...any)
	mu      sync.Mutex
	buckets map[string]*unhandledNotifBucket
}

var (
	unhandledNotifOnce    sync.Once
	defaultUnhandledNotif *unhandledNotifLimiter
)

func loadUnhandledNotifConfig() unhandledNotifConfig {
	cfg := unhandledNotifConfig{
		level:         unhandledNotifDebug,
		window:        10 * time.Second,
		burstPerKey:   3,
		maxParamBytes: 4096,
	}

	if v := os.Getenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_LEVEL"); v != "" {
		switch unhandledNotifLevel(v) {
		case unhandledNotifOff, unhandledNotifDebug, unhandledNotifInfo:
			cfg.level = unhandledNotifLevel(v)
		}
	}
	if v := os.Getenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.window = d
		}
	}
	if v := os.Getenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.burstPerKey = n
		}
	}
	if v := os.Getenv("RA_BRIDGE_UNHANDLED_NOTIFICATIONS_MAX_PARAM_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.maxParamBytes = n
		}
	}
	return cfg
}

func newUnhandledNotifLimiter(cfg unhandledNotifConfig) *unhandledNotifLimiter {
	return &unhandledNotifLimiter{
		cfg:     cfg,
		now:     time.Now,
		emit:    logUnhandledByLevel,
		buckets: map[string]*unhandledNotifBucket{},
	}
}

func logUnhandledNotification(method string, rawParams *json.RawMessage) {
	unhandledNotifOnce.Do(func() {
		defaultUnhandledNotif = newUnhandledNotifLimiter(loadUnhandledNotifConfig())
	})
	defaultUnhandledNotif.log(method, rawParams)
}

func (l *unhandledNotifLimiter) log(method string, rawParams *json.RawMessage) {
	cfg := l.cfg
	if cfg.level == unhandledNotifOff {
		return
	}
	now := l.now()

	l.mu.Lock()
	b := l.buckets[method]
	if b == nil {
		b = &unhandledNotifBucket{windowStart: now}
		l.buckets[method] = b
	}

	if cfg.window > 0 && now.Sub(b.windowStart) >= cfg.window {
		suppressed := b.suppressed
		b.windowStart = now
		b.emitted = 0
		b.suppressed = 0
		b.suppressMsg = false
		if suppressed > 0 {
			l.mu.Unlock()
			l.emit(cfg.level, "Unhandled notification suppressed", "method", method, "suppressed", suppressed, "window", cfg.window.String())
			l.mu.Lock()
		}
	}

	if cfg.burstPerKey == 0 || b.emitted >= cfg.burstPerKey {
		b.suppressed++
		needSuppressMsg := !b.suppressMsg && cfg.burstPerKey > 0
		if needSuppressMsg {
			b.suppressMsg = true
		}
		l.mu.Unlock()
		if needSuppressMsg {
			l.emit(cfg.level, "Unhandled notification flood, suppressing", "method", method, "burst", cfg.burstPerKey, "window", cfg.window.String())
		}
		return
	}
	b.emitted++
	l.mu.Unlock()

	if rawParams == nil || len(*rawParams) == 0 {
		l.emit(cfg.level, "Unhandled notification", "method", method)
		return
	}
	if cfg.maxParamBytes == 0 {
		l.emit(cfg.level, "Unhandled notification", "method", method)
		return
	}
	p := []byte(*rawParams)
	if cfg.maxParamBytes > 0 && len(p) > cfg.maxParamBytes {
		l.emit(cfg.level, "Unhandled notification", "method", method, "params", fmt.Sprintf("%s...(truncated)", p[:cfg.maxParamBytes]))
		return
	}
	l.emit(cfg.level, "Unhandled notification", "method", method, "params", string(p))
}

func logUnhandledByLevel(level unhandledNotifLevel, msg string, kv ...any) {
	switch level {
	case unhandledNotifInfo:
		logger.Info(msg, kv...)
	default:
		logger.Debug(msg, kv...)
	}
}
