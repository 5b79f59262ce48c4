package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrNoResponse indicates the peer replied without any parseable JSON-RPC
// payload in the body.
var ErrNoResponse = errors.New("no JSON-RPC payload in response")

// ErrConnClosed indicates the shared websocket connection dropped while a
// call was in flight.
var ErrConnClosed = errors.New("websocket connection closed")

// StatusError is a non-2xx HTTP reply from the peer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("remote status %d", e.Code)
}

// Transient reports whether the status is worth a single retry.
func (e *StatusError) Transient() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.Code >= 500
}

// IsTransient classifies a failure as likely to succeed on immediate retry:
// network-level timeout/reset/refused/DNS conditions, a dropped websocket
// connection, and the recoverable HTTP statuses. Well-formed JSON-RPC errors
// and decode failures are terminal here.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, ErrConnClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
