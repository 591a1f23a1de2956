package lsp

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a bridge failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindNotReady
	KindTransportClosed
	KindProtocolViolation
	KindUpstreamError
	KindRetryableEmpty
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotReady:
		return "NotReady"
	case KindTransportClosed:
		return "TransportClosed"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindUpstreamError:
		return "UpstreamError"
	case KindRetryableEmpty:
		return "RetryableEmpty"
	default:
		return "Unknown"
	}
}

// Sentinel errors for errors.Is checks. Any *Error matches the sentinel of
// its kind.
var (
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrNotReady          = &Error{Kind: KindNotReady, Message: "not ready"}
	ErrTransportClosed   = &Error{Kind: KindTransportClosed, Message: "transport closed"}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation, Message: "protocol violation"}
	ErrUpstream          = &Error{Kind: KindUpstreamError, Message: "upstream error"}
	ErrRetryableEmpty    = &Error{Kind: KindRetryableEmpty, Message: "empty result"}
)

// Error is the typed failure surfaced by every bridge layer.
type Error struct {
	Kind    ErrorKind
	Method  string // LSP method, when the failure is tied to one
	Code    int64  // JSON-RPC error code for upstream errors
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := kindPrefix(e.Kind)
	switch {
	case e.Kind == KindUpstreamError && e.Method != "":
		return fmt.Sprintf("%s: %s: %d %s", prefix, e.Method, e.Code, e.Message)
	case e.Method != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", prefix, e.Method, e.Message, e.Err)
	case e.Method != "":
		return fmt.Sprintf("%s: %s: %s", prefix, e.Method, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func kindPrefix(k ErrorKind) string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotReady:
		return "not ready"
	case KindTransportClosed:
		return "transport closed"
	case KindProtocolViolation:
		return "protocol violation"
	case KindUpstreamError:
		return "upstream error"
	case KindRetryableEmpty:
		return "empty result"
	default:
		return "error"
	}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotReady builds a KindNotReady error.
func NotReady(format string, args ...any) *Error {
	return &Error{Kind: KindNotReady, Message: fmt.Sprintf(format, args...)}
}

// TransportClosed wraps an I/O failure on the child stream.
func TransportClosed(err error) *Error {
	return &Error{Kind: KindTransportClosed, Message: "connection lost", Err: err}
}

// ProtocolViolation wraps a framing or decoding failure.
func ProtocolViolation(err error) *Error {
	return &Error{Kind: KindProtocolViolation, Message: "malformed frame", Err: err}
}

// UpstreamError carries an error payload returned by the language server.
func UpstreamError(method string, code int64, message string) *Error {
	return &Error{Kind: KindUpstreamError, Method: method, Code: code, Message: message}
}

// WithMethod returns a copy of err tagged with method when err is an *Error
// without one.
func WithMethod(err error, method string) error {
	var e *Error
	if !errors.As(err, &e) || e.Method != "" {
		return err
	}
	cp := *e
	cp.Method = method
	return &cp
}
