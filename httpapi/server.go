// Package httpapi serves the bridge operations as a small JSON API under
// /api/v1, for shell scripts and agents that cannot speak MCP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"rockerboo/rust-analyzer-bridge/bridge"
	"rockerboo/rust-analyzer-bridge/interfaces"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
)

const (
	DefaultPort = 15423
	DefaultBind = "127.0.0.1"

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Port returns RUST_ANALYZER_PORT when it holds a valid port, else fallback.
func Port(fallback int) int {
	raw := strings.TrimSpace(os.Getenv("RUST_ANALYZER_PORT"))
	if raw == "" {
		return fallback
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p <= 0 || p > 65535 {
		logger.Warn("Ignoring invalid RUST_ANALYZER_PORT", "value", raw)
		return fallback
	}
	return p
}

// Response is the envelope of every endpoint.
type Response struct {
	OK       bool            `json:"ok"`
	Result   json.RawMessage `json:"result,omitempty"`
	Empty    bool            `json:"empty,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
	Error    string          `json:"error,omitempty"`
	Kind     string          `json:"kind,omitempty"`
}

// Server is the HTTP front of a bridge.
type Server struct {
	bridge   interfaces.BridgeInterface
	http     *http.Server
	shutdown chan struct{}
	once     sync.Once
}

// New builds a server for addr ("host:port").
func New(b interfaces.BridgeInterface, addr string) *Server {
	s := &Server{bridge: b, shutdown: make(chan struct{})}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("GET /api/v1/tools", s.tools)
	mux.HandleFunc("GET /api/v1/workspace", s.getWorkspace)
	mux.HandleFunc("POST /api/v1/workspace", s.setWorkspace)
	mux.HandleFunc("POST /api/v1/shutdown", s.requestShutdown)
	mux.HandleFunc("POST /api/v1/{tool}", s.callTool)
	return logRequests(mux)
}

// ShutdownRequested is closed once POST /api/v1/shutdown was received.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdown }

// ListenAndServe binds the configured address and serves until ctx is done
// or a shutdown is requested.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or a shutdown is requested, then
// drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.Info("HTTP API listening", "addr", "http://"+ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.shutdown:
			logger.Info("Received shutdown request")
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(sctx)
	})
	return g.Wait()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ws := s.bridge.GetWorkspace()
	writeResult(w, map[string]any{
		"status":      "ok",
		"workspace":   ws.Workspace,
		"initialized": ws.Initialized,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.bridge.Status())
}

func (s *Server) tools(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]any{"tools": bridge.ToolNames()})
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.bridge.GetWorkspace())
}

func (s *Server) setWorkspace(w http.ResponseWriter, r *http.Request) {
	s.invoke(w, r, bridge.ToolSetWorkspace)
}

func (s *Server) requestShutdown(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"message": "shutting down"})
	s.once.Do(func() { close(s.shutdown) })
}

func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	s.invoke(w, r, r.PathValue("tool"))
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, tool string) {
	args, err := readArgs(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.bridge.Invoke(r.Context(), tool, args)
	if err != nil {
		logger.Debug("HTTP tool call failed", "tool", tool, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true, Result: res.Data, Empty: res.Empty, Attempts: res.Attempts})
}

// readArgs returns the request body as a JSON object; an empty body is {}.
func readArgs(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, lsp.InvalidArgument("read body: %v", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(body) {
		return nil, lsp.InvalidArgument("body is not valid JSON")
	}
	return body, nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, bridge.ErrUnknownTool) {
		return http.StatusNotFound
	}
	switch lsp.KindOf(err) {
	case lsp.KindInvalidArgument:
		return http.StatusBadRequest
	case lsp.KindNotReady:
		return http.StatusServiceUnavailable
	case lsp.KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), Response{Error: err.Error(), Kind: lsp.KindOf(err).String()})
}

func writeResult(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{OK: true, Result: raw})
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("Failed to write HTTP response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.code,
			"elapsed", time.Since(start).Round(time.Millisecond).String())
	})
}
