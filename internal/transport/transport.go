// Package transport sends single JSON-RPC requests to the remote PocketMCP
// peer. Two interchangeable strategies exist: one POST per call against an
// http(s) endpoint, and frames over a persistent ws(s) connection. Both adopt
// the peer's most recent session token as a side effect of a successful
// exchange.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// Interface is a transport-agnostic remote call channel.
type Interface interface {
	// Send dispatches one call and returns the decoded reply.
	Send(ctx context.Context, req *wire.Request) (*wire.Response, error)
	// Notify dispatches a fire-and-forget envelope. No reply is awaited.
	Notify(ctx context.Context, req *wire.Request) error
	Close() error
}

// SessionStore exposes the shared session token. Transports trust the peer's
// most recent value and replace the stored one unconditionally.
type SessionStore interface {
	SessionID() string
	SetSessionID(id string)
}

// Options configure either transport strategy.
type Options struct {
	// APIKey, when set, is sent as the X-API-Key header.
	APIKey string
	// Timeout bounds each individual call.
	Timeout time.Duration
	// Session supplies and receives the remote session token.
	Session SessionStore
}

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// New selects a strategy from the endpoint scheme: ws/wss use the persistent
// websocket transport, everything else the request-per-call HTTP transport.
func New(endpoint string, opts Options) (Interface, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch u.Scheme {
	case "ws", "wss":
		return NewWebsocket(endpoint, opts), nil
	case "http", "https":
		return NewHTTP(endpoint, opts), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
