package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/jsonrpc2"
	"rockerboo/rust-analyzer-bridge/logger"
)

// InboundHandler receives everything from the server that is not a response
// to one of our calls: notifications, and requests the server sends us.
// It runs on the read loop and must not block on a Call.
type InboundHandler interface {
	HandleInbound(c *Correlator, f *Frame)
}

type pendingCall struct {
	method string
	ch     chan callResult
}

type callResult struct {
	frame *Frame
	err   error
}

// Correlator matches responses to requests by identifier and runs the read
// loop that feeds it. Concurrent calls are independent; ordering on the wire
// is whatever order they reach the transport.
type Correlator struct {
	transport *Transport
	inbound   InboundHandler

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	err     error

	done chan struct{}
}

// NewCorrelator wires a correlator to t. Call Start to launch the read loop.
func NewCorrelator(t *Transport, inbound InboundHandler) *Correlator {
	return &Correlator{
		transport: t,
		inbound:   inbound,
		pending:   make(map[uint64]*pendingCall),
		done:      make(chan struct{}),
	}
}

// Start launches the read loop on its own goroutine.
func (c *Correlator) Start() {
	go c.run()
}

// Done is closed once the correlator has failed or been closed.
func (c *Correlator) Done() <-chan struct{} { return c.done }

// Err returns the reason the correlator stopped.
func (c *Correlator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending reports the number of unresolved calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends a request and waits for its response. A null result is returned
// as the literal "null". ctx expiry removes the pending entry.
func (c *Correlator) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, WithMethod(err, method)
	}
	c.pending[id] = pc
	c.mu.Unlock()

	req := &jsonrpc2.Request{Method: method, ID: jsonrpc2.ID{Num: id}}
	if err := setParams(req, params); err != nil {
		c.remove(id)
		return nil, err
	}

	if err := c.transport.Send(req); err != nil {
		c.remove(id)
		if KindOf(err) == KindTransportClosed || KindOf(err) == KindProtocolViolation {
			c.shutdown(err)
		}
		return nil, WithMethod(err, method)
	}

	select {
	case res := <-pc.ch:
		if res.err != nil {
			return nil, WithMethod(res.err, method)
		}
		if res.frame.Error != nil {
			return nil, UpstreamError(method, res.frame.Error.Code, res.frame.Error.Message)
		}
		if len(res.frame.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return res.frame.Result, nil
	case <-ctx.Done():
		c.remove(id)
		return nil, &Error{Kind: KindNotReady, Method: method, Message: "timed out waiting for response", Err: ctx.Err()}
	}
}

// Notify sends a notification; no response is expected.
func (c *Correlator) Notify(method string, params any) error {
	if err := c.Err(); err != nil {
		return WithMethod(err, method)
	}
	req := &jsonrpc2.Request{Method: method, Notif: true}
	if err := setParams(req, params); err != nil {
		return err
	}
	if err := c.transport.Send(req); err != nil {
		if KindOf(err) == KindTransportClosed {
			c.shutdown(err)
		}
		return WithMethod(err, method)
	}
	return nil
}

// Reply answers a server-to-client request.
func (c *Correlator) Reply(id jsonrpc2.ID, result any) error {
	resp := &jsonrpc2.Response{ID: id}
	if err := resp.SetResult(result); err != nil {
		return err
	}
	return c.transport.Send(resp)
}

// ReplyError answers a server-to-client request with an error payload.
func (c *Correlator) ReplyError(id jsonrpc2.ID, code int64, message string) error {
	return c.transport.Send(&jsonrpc2.Response{ID: id, Error: &jsonrpc2.Error{Code: code, Message: message}})
}

// Close fails every pending call with reason and closes the transport.
func (c *Correlator) Close(reason error) {
	if reason == nil {
		reason = TransportClosed(errors.New("closed"))
	}
	c.shutdown(reason)
	_ = c.transport.Close()
}

func setParams(req *jsonrpc2.Request, params any) error {
	if params == nil {
		return nil
	}
	if err := req.SetParams(params); err != nil {
		return InvalidArgument("encode %s params: %v", req.Method, err)
	}
	return nil
}

func (c *Correlator) run() {
	for {
		f, err := c.transport.Receive()
		if err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case f.IsResponse():
			c.resolve(f)
		case c.inbound != nil:
			c.inbound.HandleInbound(c, f)
		case f.IsServerRequest():
			_ = c.ReplyError(*f.ID, jsonrpc2.CodeMethodNotFound, "Method not found")
		}
	}
}

func (c *Correlator) resolve(f *Frame) {
	if f.ID.IsString {
		logger.Warn("Discarding response with string id", "id", f.ID.Str)
		return
	}
	c.mu.Lock()
	pc, ok := c.pending[f.ID.Num]
	if ok {
		delete(c.pending, f.ID.Num)
	}
	c.mu.Unlock()

	if !ok {
		logger.Warn("Discarding response for unknown request", "id", f.ID.Num)
		return
	}
	pc.ch <- callResult{frame: f}
}

func (c *Correlator) remove(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// shutdown records the first terminal error and fails every pending call.
func (c *Correlator) shutdown(reason error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = reason
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.ch <- callResult{err: reason}
	}
	close(c.done)
	if len(pending) > 0 {
		logger.Warn("Failed pending requests", "count", len(pending), "reason", reason.Error())
	}
}
