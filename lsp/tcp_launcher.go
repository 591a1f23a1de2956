package lsp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"rockerboo/rust-analyzer-bridge/logger"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultKeepAlive   = 30 * time.Second
)

// TCPLauncher connects to a language server that is already listening on a
// socket, typically rust-analyzer behind a stdio-to-TCP proxy in a container.
// The workspace root is only used for logging; the remote side must already
// be rooted correctly (see PathMappingConfig).
type TCPLauncher struct {
	Host        string
	Port        int
	MaxAttempts int
	RetryDelay  time.Duration
}

func (l *TCPLauncher) address() string {
	host := l.Host
	if host == "" {
		host = "127.0.0.1"
	}
	// Avoid resolver surprises inside containers.
	host = strings.Replace(host, "localhost", "127.0.0.1", 1)
	return net.JoinHostPort(host, fmt.Sprint(l.Port))
}

func (l *TCPLauncher) Launch(ctx context.Context, root string) (Process, error) {
	addr := l.address()
	logger.Info("Connecting to language server", "mode", ModeTCP, "addr", addr, "root", root)

	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}
	var conn net.Conn
	err := retryConnect(ctx, l.MaxAttempts, l.RetryDelay, func(attempt int) error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			logger.Warn("TCP connection attempt failed", "attempt", attempt, "max", l.MaxAttempts, "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", addr, l.MaxAttempts, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	logger.Info("TCP connection established", "addr", addr)
	return newConnProcess(conn, "tcp://"+addr), nil
}

// retryConnect runs dial up to attempts times with a linearly growing delay.
func retryConnect(ctx context.Context, attempts int, delay time.Duration, dial func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = dial(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// connProcess adapts a net.Conn to Process.
type connProcess struct {
	net.Conn
	desc      string
	closeOnce sync.Once
	exited    chan struct{}
}

func newConnProcess(conn net.Conn, desc string) *connProcess {
	return &connProcess{Conn: conn, desc: desc, exited: make(chan struct{})}
}

func (p *connProcess) Close() error {
	err := p.Conn.Close()
	p.closeOnce.Do(func() { close(p.exited) })
	return err
}

func (p *connProcess) Pid() int                { return 0 }
func (p *connProcess) Kill() error             { return p.Close() }
func (p *connProcess) Exited() <-chan struct{} { return p.exited }
func (p *connProcess) Describe() string        { return p.desc }
