package lsp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"rockerboo/rust-analyzer-bridge/logger"
)

// WebSocketLauncher connects to a language server exposed at ws://host:port/lsp.
// Each LSP frame travels as one text message.
type WebSocketLauncher struct {
	Host        string
	Port        int
	MaxAttempts int
	RetryDelay  time.Duration
	// Path defaults to "/lsp".
	Path string
}

func (l *WebSocketLauncher) url() string {
	host := l.Host
	if host == "" {
		host = "127.0.0.1"
	}
	host = strings.Replace(host, "localhost", "127.0.0.1", 1)
	path := l.Path
	if path == "" {
		path = "/lsp"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, fmt.Sprint(l.Port)), path)
}

func (l *WebSocketLauncher) Launch(ctx context.Context, root string) (Process, error) {
	wsURL := l.url()
	logger.Info("Connecting to language server", "mode", ModeWebSocket, "url", wsURL, "root", root)

	var wsConn *websocket.Conn
	err := retryConnect(ctx, l.MaxAttempts, l.RetryDelay, func(attempt int) error {
		c, err := dialGorillaWebSocket(ctx, wsURL)
		if err != nil {
			logger.Warn("WebSocket connection attempt failed", "attempt", attempt, "max", l.MaxAttempts, "error", err)
			return err
		}
		wsConn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", wsURL, l.MaxAttempts, err)
	}

	logger.Info("WebSocket connection established", "url", wsURL)
	return &wsProcess{gorillaRWC: newGorillaRWC(wsConn), desc: wsURL, exited: make(chan struct{})}, nil
}

func dialGorillaWebSocket(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	netDialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAlive,
	}

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := netDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn, nil
		},
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// gorillaRWC adapts a websocket connection to a byte stream. Reads drain
// one message at a time; each Write becomes one text message.
type gorillaRWC struct {
	conn    *websocket.Conn
	readBuf []byte
	readMu  sync.Mutex
	writeMu sync.Mutex
}

func newGorillaRWC(conn *websocket.Conn) *gorillaRWC {
	return &gorillaRWC{conn: conn}
}

func (g *gorillaRWC) Read(p []byte) (int, error) {
	g.readMu.Lock()
	defer g.readMu.Unlock()

	if len(g.readBuf) > 0 {
		n := copy(p, g.readBuf)
		g.readBuf = g.readBuf[n:]
		return n, nil
	}

	_, msg, err := g.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, io.EOF
		}
		return 0, err
	}

	n := copy(p, msg)
	if n < len(msg) {
		g.readBuf = msg[n:]
	}
	return n, nil
}

func (g *gorillaRWC) Write(p []byte) (int, error) {
	// gorilla allows one concurrent writer.
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err := g.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *gorillaRWC) Close() error {
	return g.conn.Close()
}

var _ io.ReadWriteCloser = (*gorillaRWC)(nil)

type wsProcess struct {
	*gorillaRWC
	desc      string
	closeOnce sync.Once
	exited    chan struct{}
}

func (p *wsProcess) Close() error {
	err := p.gorillaRWC.Close()
	p.closeOnce.Do(func() { close(p.exited) })
	return err
}

func (p *wsProcess) Pid() int                { return 0 }
func (p *wsProcess) Kill() error             { return p.Close() }
func (p *wsProcess) Exited() <-chan struct{} { return p.exited }
func (p *wsProcess) Describe() string        { return p.desc }
