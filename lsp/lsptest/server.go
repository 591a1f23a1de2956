// Package lsptest provides an in-process language server for tests. It
// speaks the same Content-Length framed JSON-RPC as rust-analyzer over a
// net.Pipe and implements lsp.Launcher, so sessions and bridges can be
// exercised without a real toolchain.
package lsptest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"rockerboo/rust-analyzer-bridge/lsp"
)

// HandlerFunc answers one request. Returning a *jsonrpc2.Error sends it as
// the error member. For notifications the result is ignored.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Call is one message received by the fake server.
type Call struct {
	Method string
	Params json.RawMessage
	Notif  bool
}

// Server is a scripted fake language server. The zero value is not usable;
// call NewServer.
type Server struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
	roots    []string
	current  *conn
	launches int

	// LaunchErr, when set, makes Launch fail.
	LaunchErr error
}

type conn struct {
	rpc    *jsonrpc2.Conn
	client *pipeProcess
	server net.Conn
}

// NewServer returns a server that answers initialize with a minimal
// capability set, shutdown with null, and every other request with null.
func NewServer() *Server {
	s := &Server{handlers: make(map[string]HandlerFunc)}
	s.Respond(lsp.MethodInitialize, map[string]any{
		"capabilities": map[string]any{
			"hoverProvider":           true,
			"definitionProvider":      true,
			"referencesProvider":      true,
			"workspaceSymbolProvider": true,
			"callHierarchyProvider":   true,
		},
		"serverInfo": map[string]any{"name": "lsptest", "version": "0.0.0"},
	})
	return s
}

// Handle installs h for method, replacing any previous handler.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Respond makes method always answer with result.
func (s *Server) Respond(method string, result any) {
	s.Handle(method, func(context.Context, json.RawMessage) (any, error) { return result, nil })
}

// RespondError makes method answer with an error payload.
func (s *Server) RespondError(method string, code int64, message string) {
	s.Handle(method, func(context.Context, json.RawMessage) (any, error) {
		return nil, &jsonrpc2.Error{Code: code, Message: message}
	})
}

// RespondSequence answers method with results in order, repeating the last
// one once the sequence is exhausted.
func (s *Server) RespondSequence(method string, results ...any) {
	var (
		mu sync.Mutex
		i  int
	)
	s.Handle(method, func(context.Context, json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(results) == 0 {
			return nil, nil
		}
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r, nil
	})
}

// Launch implements lsp.Launcher. Each launch replaces the previous
// connection; the old one is left for the caller to close.
func (s *Server) Launch(ctx context.Context, root string) (lsp.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.launches++
	s.roots = append(s.roots, root)
	launchErr := s.LaunchErr
	pid := 40000 + s.launches
	s.mu.Unlock()
	if launchErr != nil {
		return nil, launchErr
	}

	clientSide, serverSide := net.Pipe()
	stream := jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{})
	rpc := jsonrpc2.NewConn(context.Background(), stream,
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)),
		jsonrpc2.OnRecv(s.record),
		jsonrpc2.SetLogger(log.New(io.Discard, "", 0)),
	)

	proc := newPipeProcess(clientSide, pid)
	go func() {
		select {
		case <-rpc.DisconnectNotify():
		case <-proc.exited:
		}
		_ = proc.Close()
	}()

	s.mu.Lock()
	s.current = &conn{rpc: rpc, client: proc, server: serverSide}
	s.mu.Unlock()
	return proc, nil
}

func (s *Server) record(req *jsonrpc2.Request, _ *jsonrpc2.Response) {
	if req == nil {
		return
	}
	c := Call{Method: req.Method, Notif: req.Notif}
	if req.Params != nil {
		c.Params = append(json.RawMessage(nil), *req.Params...)
	}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	s.mu.Lock()
	h := s.handlers[req.Method]
	s.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	return h(ctx, params)
}

// Notify sends a notification from the server to the connected client.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return errors.New("lsptest: no client connected")
	}
	return c.rpc.Notify(ctx, method, params)
}

// Call sends a request from the server to the client and decodes the reply.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return errors.New("lsptest: no client connected")
	}
	return c.rpc.Call(ctx, method, params, result)
}

// PublishDiagnostics pushes a publishDiagnostics notification for uri.
func (s *Server) PublishDiagnostics(ctx context.Context, uri string, diagnostics []map[string]any) error {
	if diagnostics == nil {
		diagnostics = []map[string]any{}
	}
	return s.Notify(ctx, lsp.MethodPublishDiagnostics, map[string]any{
		"uri":         uri,
		"diagnostics": diagnostics,
	})
}

// Progress sends one $/progress notification with the given kind
// ("begin", "report" or "end").
func (s *Server) Progress(ctx context.Context, token, kind, title string) error {
	value := map[string]any{"kind": kind}
	if title != "" {
		value["title"] = title
	}
	return s.Notify(ctx, lsp.MethodProgress, map[string]any{"token": token, "value": value})
}

// Kill drops the current connection as if the child process had died.
func (s *Server) Kill() {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return
	}
	_ = c.rpc.Close()
	_ = c.client.Kill()
}

// Calls returns every message received so far, in wire order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the method names of Calls.
func (s *Server) Methods() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Count reports how many times method was received.
func (s *Server) Count(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastParams returns the params of the most recent call to method.
func (s *Server) LastParams(method string) (json.RawMessage, bool) {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i].Params, true
		}
	}
	return nil, false
}

// Launches reports how many processes were started.
func (s *Server) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Roots returns the workspace root of each launch.
func (s *Server) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roots...)
}

var _ lsp.Launcher = (*Server)(nil)

// pipeProcess is the client end of the pipe, posing as a child process.
type pipeProcess struct {
	net.Conn
	pid       int
	closeOnce sync.Once
	exited    chan struct{}
}

func newPipeProcess(c net.Conn, pid int) *pipeProcess {
	return &pipeProcess{Conn: c, pid: pid, exited: make(chan struct{})}
}

func (p *pipeProcess) Close() error {
	err := p.Conn.Close()
	p.closeOnce.Do(func() { close(p.exited) })
	return err
}

func (p *pipeProcess) Pid() int                { return p.pid }
func (p *pipeProcess) Kill() error             { return p.Close() }
func (p *pipeProcess) Exited() <-chan struct{} { return p.exited }
func (p *pipeProcess) Describe() string        { return "lsptest pipe" }
