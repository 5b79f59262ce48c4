// Package session owns the remote-session lifecycle: the initialization
// handshake, detection of session invalidation, and the single
// repair-and-replay pass. Session tokens can expire server-side at any time;
// instead of tracking a TTL the client treats the first invalidation error as
// the signal and repairs lazily, trading one extra round trip for simplicity.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/transport"
	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

// Implementation identifies this client to the peer.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is one entry of the remote catalog. Only Name is inspected by the
// bridge; the raw descriptor passes through unmodified.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Raw         json.RawMessage
}

// Client dispatches JSON-RPC calls through the retry policy and transport,
// ensuring the session is established first.
type Client struct {
	transport transport.Interface
	state     *State
	info      Implementation

	nextID atomic.Int64
	initMu sync.Mutex
}

// NewClient wires a client to a transport and a session state.
func NewClient(t transport.Interface, state *State, info Implementation) *Client {
	return &Client{transport: t, state: state, info: info}
}

// State returns the session state owned by this client.
func (c *Client) State() *State { return c.state }

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      Implementation `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// EnsureSession performs the initialization handshake unless the session is
// already established. Concurrent callers share one handshake. The trailing
// "initialized" notification is best effort: its failure is logged and never
// surfaced.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.state.Initialized() {
		return nil
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.state.Initialized() {
		return nil
	}
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.info,
		Capabilities:    map[string]any{},
	}
	resp, err := c.do(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", resp.Error)
	}
	c.state.markInitialized()
	logx.Log.Debug().Str("session_id", c.state.SessionID()).Msg("session established")
	if err := c.transport.Notify(ctx, wire.NewNotification("notifications/initialized", nil)); err != nil {
		logx.Log.Warn().Err(err).Msg("initialized notification failed")
	}
	return nil
}

// Call ensures session readiness and dispatches one call. A session
// invalidation error resets the state, re-initializes and replays the call
// exactly once; a repair attempt is never itself repaired. Any other JSON-RPC
// error is returned as-is (wrapped as *wire.Error).
func (c *Client) Call(ctx context.Context, method string, params any) (*wire.Response, error) {
	return c.call(ctx, method, params, false)
}

func (c *Client) call(ctx context.Context, method string, params any, repaired bool) (*wire.Response, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if !repaired && isSessionInvalid(resp.Error) {
			logx.Log.Warn().Str("method", method).Str("error", resp.Error.Message).Msg("session invalidated, re-initializing and replaying once")
			metrics.SessionRepairObserved()
			c.state.Reset()
			return c.call(ctx, method, params, true)
		}
		return nil, resp.Error
	}
	return resp, nil
}

// do assigns a fresh call id and dispatches through the transient-retry
// policy. Retry and session repair are independent single-shot mechanisms:
// the replay of a repaired call gets its own single retry but nothing
// compounds beyond that.
func (c *Client) do(ctx context.Context, method string, params any) (*wire.Response, error) {
	req := wire.NewRequest(c.nextID.Add(1), method, params)
	return transport.WithRetry(ctx, func(ctx context.Context) (*wire.Response, error) {
		return c.transport.Send(ctx, req)
	})
}

// ListTools fetches the remote tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil || result.Tools == nil {
		return nil, fmt.Errorf("tools/list response did not include a tools array")
	}
	tools := make([]Tool, 0, len(result.Tools))
	for _, raw := range result.Tools {
		var meta struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil || meta.Name == "" {
			logx.Log.Warn().Msg("skipping tool descriptor without a name")
			continue
		}
		tools = append(tools, Tool{Name: meta.Name, Description: meta.Description, InputSchema: meta.InputSchema, Raw: raw})
	}
	return tools, nil
}

type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// CallTool invokes a named remote tool. The full reply payload is returned so
// callers can fall back to it when the result field is absent.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*wire.Response, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

type healthChecker interface {
	Health(ctx context.Context) error
}

// WaitHealthy polls the peer's health endpoint until it answers or the
// deadline passes. Transports without a health probe succeed immediately.
func (c *Client) WaitHealthy(ctx context.Context, deadline, interval time.Duration) error {
	hc, ok := c.transport.(healthChecker)
	if !ok {
		logx.Log.Debug().Msg("transport has no health probe, skipping wait")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	var lastErr error
	for {
		if err := hc.Health(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("peer not healthy within %s: %w", deadline, lastErr)
			}
			return fmt.Errorf("peer not healthy within %s", deadline)
		case <-time.After(interval):
		}
	}
}

// sessionInvalidMarkers are matched against JSON-RPC error messages that
// mention the session.
var sessionInvalidMarkers = []string{"invalid", "expired", "not found", "missing", "unknown", "terminated"}

func isSessionInvalid(e *wire.Error) bool {
	msg := strings.ToLower(e.Message)
	if !strings.Contains(msg, "session") {
		return false
	}
	for _, marker := range sessionInvalidMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
