package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

const (
	// DefaultRPCPath is appended to a bare http(s) base URL.
	DefaultRPCPath = "/mcp"

	headerSessionID = "Mcp-Session-Id"
	headerAPIKey    = "X-API-Key"
	acceptTypes     = "application/json, text/event-stream"

	// bodySnippetLimit caps how much of an error body is carried in messages.
	bodySnippetLimit = 220
)

// HTTP is the stateless request-per-call strategy: one POST per call, reply
// delivered as a plain JSON document or a server-streamed event body.
type HTTP struct {
	endpoint string
	base     string
	apiKey   string
	timeout  time.Duration
	session  SessionStore
	client   *http.Client
}

// NewHTTP builds the HTTP strategy for the given base URL. RPCs go to
// {base}/mcp unless the URL already names the RPC path.
func NewHTTP(baseURL string, opts Options) *HTTP {
	base := strings.TrimRight(baseURL, "/")
	endpoint := base
	if !strings.HasSuffix(endpoint, DefaultRPCPath) {
		endpoint += DefaultRPCPath
	}
	return &HTTP{
		endpoint: endpoint,
		base:     base,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		session:  opts.Session,
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}},
	}
}

// Send posts one call and decodes the reply. A session token carried on the
// response headers replaces the stored one; the transport does not validate
// it, it trusts the peer's most recent value.
func (t *HTTP) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	body, status, contentType, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Code: status, Body: snippet(body)}
	}
	resp, err := Decode(body, contentType)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w from %s", ErrNoResponse, t.endpoint)
	}
	return resp, nil
}

// Notify posts a fire-and-forget envelope; any 2xx reply is success and the
// body is discarded.
func (t *HTTP) Notify(ctx context.Context, req *wire.Request) error {
	body, status, _, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Code: status, Body: snippet(body)}
	}
	return nil
}

func (t *HTTP) post(ctx context.Context, req *wire.Request) ([]byte, int, string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", acceptTypes)
	if t.apiKey != "" {
		hreq.Header.Set(headerAPIKey, t.apiKey)
	}
	if t.session != nil {
		if sid := t.session.SessionID(); sid != "" {
			hreq.Header.Set(headerSessionID, sid)
		}
	}
	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, 0, "", fmt.Errorf("post %s: %w", t.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		t.adoptSession(resp.Header.Get(headerSessionID))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("read response from %s: %w", t.endpoint, err)
	}
	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

func (t *HTTP) adoptSession(sid string) {
	if sid == "" || t.session == nil {
		return
	}
	if t.session.SessionID() != sid {
		logx.Log.Debug().Str("session_id", sid).Msg("adopting session id from response header")
		t.session.SetSessionID(sid)
	}
}

// Health probes the peer's /health endpoint, returning nil on any 2xx reply.
func (t *HTTP) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/health", nil)
	if err != nil {
		return err
	}
	if t.apiKey != "" {
		hreq.Header.Set(headerAPIKey, t.apiKey)
	}
	resp, err := t.client.Do(hreq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}
	return nil
}

// Close releases idle connections.
func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(strings.ReplaceAll(string(body), "\n", " "))
	if len(s) > bodySnippetLimit {
		s = s[:bodySnippetLimit] + "..."
	}
	return s
}
