package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an upstream failure.
type Kind string

const (
	// KindHTTP is a non-success response status.
	KindHTTP Kind = "http"
	// KindTimeout covers connect, write and whole-exchange read deadlines.
	KindTimeout Kind = "timeout"
	// KindInterrupted is a connection closed before the stream finished.
	KindInterrupted Kind = "interrupted"
	// KindRead is any other transport failure.
	KindRead Kind = "read"
)

// Error is returned by Open and yielded by Stream.Fragments.
type Error struct {
	Kind       Kind
	StatusCode int
	// Body holds a truncated copy of the response body for KindHTTP.
	Body string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		msg := fmt.Sprintf("AI API call failed (status %d)", e.StatusCode)
		if e.Body != "" {
			msg += ". error: " + e.Body
		}
		return msg
	case KindTimeout:
		return fmt.Sprintf("AI API call timed out: %v", e.Err)
	case KindInterrupted:
		return fmt.Sprintf("AI API connection interrupted: %v (the connection was closed mid-transfer)", e.Err)
	default:
		return fmt.Sprintf("failed to read AI API stream: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// classifyError maps a transport error to an *Error. When the caller's own
// context is done the context error is returned unchanged.
func classifyError(parent, exchange context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(exchange.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if isInterruption(err) {
		return &Error{Kind: KindInterrupted, Err: err}
	}
	return &Error{Kind: KindRead, Err: err}
}

func isInterruption(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "unexpected EOF")
}
