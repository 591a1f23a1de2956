package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"rockerboo/rust-analyzer-bridge/logger"
	"rockerboo/rust-analyzer-bridge/lsp"
)

// proxy multiplexes successive TCP clients onto one long-lived language
// server. Only one client is attached at a time; a new connection replaces
// the previous one.
//
// The server sees a single session: the first initialize is forwarded and its
// result cached, later ones are answered from the cache. shutdown and exit
// from clients never reach the server, and documents a client left open are
// closed when it goes away.
type proxy struct {
	upstream jsonrpc2.ObjectStream

	mu     sync.Mutex
	client *clientConn

	initMu       sync.Mutex
	initID       string
	initResponse []byte
	initialized  bool
}

type clientConn struct {
	stream jsonrpc2.ObjectStream
	desc   string

	mu   sync.Mutex
	open map[string]struct{}
}

func newProxy(upstream io.ReadWriteCloser) *proxy {
	return &proxy{upstream: jsonrpc2.NewBufferedStream(upstream, jsonrpc2.VSCodeObjectCodec{})}
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

func reply(id, result json.RawMessage) message {
	return message{JSONRPC: "2.0", ID: id, Result: result}
}

// readUpstream forwards server frames to the attached client until the server
// stream ends.
func (p *proxy) readUpstream() error {
	for {
		var raw json.RawMessage
		if err := p.upstream.ReadObject(&raw); err != nil {
			return fmt.Errorf("read from server: %w", err)
		}
		id := gjson.GetBytes(raw, "id")
		method := gjson.GetBytes(raw, "method").String()

		if method == "" && id.Exists() {
			p.cacheInitialize(id.Raw, raw)
		}

		p.mu.Lock()
		c := p.client
		p.mu.Unlock()

		if c == nil {
			if method != "" && id.Exists() {
				// Nobody can answer; unblock the server.
				logger.Debug("Answering server request without a client", "method", method)
				_ = p.upstream.WriteObject(reply(json.RawMessage(id.Raw), json.RawMessage("null")))
			}
			continue
		}
		if err := c.stream.WriteObject(raw); err != nil {
			logger.Warn("Client write failed", "client", c.desc, "error", err)
		}
	}
}

func (p *proxy) cacheInitialize(id string, raw json.RawMessage) {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.initResponse != nil || p.initID == "" || id != p.initID {
		return
	}
	if gjson.GetBytes(raw, "result.capabilities").Exists() {
		p.initResponse = append([]byte(nil), raw...)
		logger.Info("Cached initialize response", "bytes", len(p.initResponse))
	}
}

// serve attaches rwc as the active client and pumps its frames to the server
// until it disconnects or sends exit.
func (p *proxy) serve(rwc io.ReadWriteCloser, desc string) {
	c := &clientConn{
		stream: jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
		desc:   desc,
		open:   make(map[string]struct{}),
	}

	p.mu.Lock()
	prev := p.client
	p.client = c
	p.mu.Unlock()
	if prev != nil {
		logger.Info("Replacing client", "old", prev.desc, "new", desc)
		_ = prev.stream.Close()
	}
	logger.Info("Client connected", "client", desc)

	defer p.detach(c)
	for {
		var raw json.RawMessage
		if err := c.stream.ReadObject(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Client read ended", "client", desc, "error", err)
			}
			return
		}
		forward, done := p.intercept(c, raw)
		if forward {
			if err := p.upstream.WriteObject(raw); err != nil {
				logger.Error("Server write failed", "error", err)
				return
			}
		}
		if done {
			return
		}
	}
}

// intercept decides what happens to one client frame.
func (p *proxy) intercept(c *clientConn, raw json.RawMessage) (forward, done bool) {
	id := gjson.GetBytes(raw, "id")
	switch method := gjson.GetBytes(raw, "method").String(); method {
	case lsp.MethodInitialize:
		p.initMu.Lock()
		cached := p.initResponse
		if cached == nil && p.initID == "" {
			p.initID = id.Raw
		}
		p.initMu.Unlock()
		if cached != nil {
			out, err := sjson.SetRawBytes(cached, "id", []byte(id.Raw))
			if err != nil {
				logger.Warn("Failed to rewrite cached initialize id", "error", err)
				return false, true
			}
			logger.Debug("Answering initialize from cache", "client", c.desc)
			_ = c.stream.WriteObject(json.RawMessage(out))
			return false, false
		}
		return true, false

	case lsp.MethodInitialized:
		p.initMu.Lock()
		first := !p.initialized
		p.initialized = true
		p.initMu.Unlock()
		return first, false

	case lsp.MethodShutdown:
		_ = c.stream.WriteObject(reply(json.RawMessage(id.Raw), json.RawMessage("null")))
		return false, false

	case lsp.MethodExit:
		return false, true

	case lsp.MethodDidOpen:
		c.track(gjson.GetBytes(raw, "params.textDocument.uri").String(), true)
	case lsp.MethodDidClose:
		c.track(gjson.GetBytes(raw, "params.textDocument.uri").String(), false)
	}
	return true, false
}

func (c *clientConn) track(uri string, open bool) {
	if uri == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if open {
		c.open[uri] = struct{}{}
	} else {
		delete(c.open, uri)
	}
}

// detach closes what c left open on the server and releases the slot.
func (p *proxy) detach(c *clientConn) {
	p.mu.Lock()
	if p.client == c {
		p.client = nil
	}
	p.mu.Unlock()
	_ = c.stream.Close()

	c.mu.Lock()
	uris := make([]string, 0, len(c.open))
	for uri := range c.open {
		uris = append(uris, uri)
	}
	c.open = map[string]struct{}{}
	c.mu.Unlock()

	for _, uri := range uris {
		note := map[string]any{
			"jsonrpc": "2.0",
			"method":  lsp.MethodDidClose,
			"params":  map[string]any{"textDocument": map[string]string{"uri": uri}},
		}
		if err := p.upstream.WriteObject(note); err != nil {
			logger.Warn("Failed to close document", "uri", uri, "error", err)
		}
	}
	logger.Info("Client disconnected", "client", c.desc, "closed_documents", len(uris))
}
