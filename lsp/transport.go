package lsp

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/sourcegraph/jsonrpc2"
	"rockerboo/rust-analyzer-bridge/logger"
)

// Frame is one decoded base-protocol message from the server. Result keeps
// the literal "null" so a null result is distinguishable from a missing one.
type Frame struct {
	ID     *jsonrpc2.ID     `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params *json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *jsonrpc2.Error  `json:"error,omitempty"`
}

// IsResponse reports whether the frame answers one of our requests.
func (f *Frame) IsResponse() bool { return f.ID != nil && f.Method == "" }

// IsServerRequest reports whether the server expects a reply to this frame.
func (f *Frame) IsServerRequest() bool { return f.ID != nil && f.Method != "" }

// IsNotification reports whether the frame carries no identifier.
func (f *Frame) IsNotification() bool { return f.ID == nil && f.Method != "" }

// Transport frames JSON-RPC objects onto the child's byte stream using the
// Content-Length header codec. Once a read or write fails the channel is
// dead; later calls return the same error.
type Transport struct {
	stream jsonrpc2.ObjectStream

	mu     sync.Mutex
	err    error
	closed bool
}

// NewTransport wraps rwc. The transport owns rwc and closes it on Close.
func NewTransport(rwc io.ReadWriteCloser) *Transport {
	return &Transport{
		stream: jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}),
	}
}

// Send writes one complete frame. The buffered stream serializes writers.
func (t *Transport) Send(obj any) error {
	if err := t.failure(); err != nil {
		return err
	}
	if err := t.stream.WriteObject(obj); err != nil {
		var jerr *json.MarshalerError
		var uerr *json.UnsupportedTypeError
		if errors.As(err, &jerr) || errors.As(err, &uerr) {
			// Encoding our own object failed; the stream is intact.
			return InvalidArgument("encode frame: %v", err)
		}
		return t.fail(TransportClosed(err))
	}
	return nil
}

// Receive blocks for the next frame. It is called from a single reader.
// Error responses with a null id (the server could not parse a request)
// match no caller and are dropped.
func (t *Transport) Receive() (*Frame, error) {
	for {
		if err := t.failure(); err != nil {
			return nil, err
		}
		var f Frame
		if err := t.stream.ReadObject(&f); err != nil {
			return nil, t.fail(classifyReadError(err))
		}
		if f.ID == nil && f.Method == "" {
			if f.Error != nil {
				logger.Warn("Dropping error response without id", "code", f.Error.Code, "message", f.Error.Message)
				continue
			}
			return nil, t.fail(ProtocolViolation(errors.New("frame has neither id nor method")))
		}
		return &f, nil
	}
}

// Close terminates the channel and closes the underlying stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.err == nil {
		t.err = TransportClosed(os.ErrClosed)
	}
	t.mu.Unlock()
	return t.stream.Close()
}

// Err returns the terminal error, if any.
func (t *Transport) Err() error { return t.failure() }

func (t *Transport) failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) fail(err *Error) error {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	first := t.err
	t.mu.Unlock()
	_ = t.stream.Close()
	return first
}

// classifyReadError separates a closed stream from a malformed one.
func classifyReadError(err error) *Error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return TransportClosed(err)
	case strings.Contains(err.Error(), "use of closed"):
		return TransportClosed(err)
	default:
		// Bad header line, missing Content-Length, truncated body
		// (io.ErrUnexpectedEOF) or undecodable JSON.
		return ProtocolViolation(err)
	}
}
