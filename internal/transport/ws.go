package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// DefaultWSPath is appended to a bare ws(s) URL.
const DefaultWSPath = "/ws"

const wsReadLimit = 1 << 24

// Websocket is the persistent-connection strategy. One shared connection is
// established lazily; calls register their id in a pending map and the read
// loop matches replies strictly by id. Replies may arrive in any order.
// Unmatched or malformed inbound frames are dropped by policy, counted and
// logged at debug rather than silently swallowed.
type Websocket struct {
	url     string
	header  http.Header
	timeout time.Duration
	session SessionStore

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing chan struct{}
	pending map[int64]chan *wire.Response
}

// NewWebsocket builds the websocket strategy for the given ws(s) URL. The
// connection path defaults to {base}/ws.
func NewWebsocket(wsURL string, opts Options) *Websocket {
	u := strings.TrimRight(wsURL, "/")
	if !strings.HasSuffix(u, DefaultWSPath) {
		u += DefaultWSPath
	}
	header := make(http.Header)
	if opts.APIKey != "" {
		header.Set(headerAPIKey, opts.APIKey)
	}
	return &Websocket{
		url:     u,
		header:  header,
		timeout: opts.Timeout,
		session: opts.Session,
		pending: map[int64]chan *wire.Response{},
	}
}

// ensureConn returns the shared connection, dialing it if needed. Only one
// dial attempt runs at a time; concurrent callers wait on the attempt's
// completion channel instead of opening duplicates.
func (t *Websocket) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	for {
		t.mu.Lock()
		if t.conn != nil {
			conn := t.conn
			t.mu.Unlock()
			return conn, nil
		}
		if t.dialing != nil {
			done := t.dialing
			t.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		done := make(chan struct{})
		t.dialing = done
		t.mu.Unlock()

		conn, err := t.dial(ctx)

		t.mu.Lock()
		t.dialing = nil
		close(done)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.conn = conn
		t.mu.Unlock()
		go t.readLoop(conn)
		return conn, nil
	}
}

func (t *Websocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{HTTPHeader: t.header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(wsReadLimit)
	if resp != nil && t.session != nil {
		if sid := resp.Header.Get(headerSessionID); sid != "" && sid != t.session.SessionID() {
			t.session.SetSessionID(sid)
		}
	}
	logx.Log.Debug().Str("url", t.url).Msg("websocket connected")
	return conn, nil
}

// readLoop delivers inbound replies to their pending callers. It owns the
// connection teardown: on read error every pending call fails and the next
// Send re-dials.
func (t *Websocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			t.teardown(conn)
			return
		}
		var resp wire.Response
		if json.Unmarshal(data, &resp) != nil || !resp.Valid() {
			metrics.FrameDiscarded()
			logx.Log.Debug().Int("bytes", len(data)).Msg("discarding malformed websocket frame")
			continue
		}
		var id int64
		if len(resp.ID) == 0 || json.Unmarshal(resp.ID, &id) != nil {
			metrics.FrameDiscarded()
			logx.Log.Debug().Msg("discarding websocket frame without numeric id")
			continue
		}
		t.mu.Lock()
		ch := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ch == nil {
			metrics.FrameDiscarded()
			logx.Log.Debug().Int64("id", id).Msg("discarding unmatched websocket frame")
			continue
		}
		ch <- &resp
	}
}

func (t *Websocket) teardown(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	orphaned := t.pending
	t.pending = map[int64]chan *wire.Response{}
	t.mu.Unlock()
	for _, ch := range orphaned {
		close(ch)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "closing")
}

// Send emits one call frame and waits for the reply with the matching id,
// bounded by the per-call timeout.
func (t *Websocket) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	conn, err := t.ensureConn(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan *wire.Response, 1)
	t.mu.Lock()
	if _, exists := t.pending[req.ID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("call id %d already in flight", req.ID)
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.write(ctx, conn, req); err != nil {
		t.unregister(req.ID)
		return nil, err
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnClosed
		}
		return resp, nil
	case <-timer.C:
		t.unregister(req.ID)
		return nil, fmt.Errorf("call %d timed out after %s: %w", req.ID, t.timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		t.unregister(req.ID)
		return nil, ctx.Err()
	}
}

// Notify emits a fire-and-forget frame; nothing is registered and no reply
// is awaited.
func (t *Websocket) Notify(ctx context.Context, req *wire.Request) error {
	conn, err := t.ensureConn(ctx)
	if err != nil {
		return err
	}
	return t.write(ctx, conn, req)
}

func (t *Websocket) write(ctx context.Context, conn *websocket.Conn, req *wire.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write %s: %w", t.url, err)
	}
	return nil
}

func (t *Websocket) unregister(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Close shuts the shared connection down; pending calls fail through the
// read loop teardown.
func (t *Websocket) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}
