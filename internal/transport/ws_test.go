package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// echoServer accepts websocket connections on /ws and hands each inbound
// frame to respond, writing back whatever frames it returns.
func echoServer(t *testing.T, respond func(req *wire.Request) [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultWSPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var req wire.Request
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			for _, frame := range respond(&req) {
				if err := conn.Write(r.Context(), websocket.MessageText, frame); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func resultFrame(id int64, result string) []byte {
	frame, _ := json.Marshal(map[string]any{
		"jsonrpc": wire.Version,
		"id":      id,
		"result":  json.RawMessage(result),
	})
	return frame
}

func TestWebsocketURLPath(t *testing.T) {
	tr := NewWebsocket("ws://phone:8080", Options{Timeout: time.Second})
	if tr.url != "ws://phone:8080/ws" {
		t.Fatalf("expected /ws appended, got %s", tr.url)
	}
	tr = NewWebsocket("wss://phone:8080/ws", Options{Timeout: time.Second})
	if tr.url != "wss://phone:8080/ws" {
		t.Fatalf("expected path untouched, got %s", tr.url)
	}
}

func TestWebsocketSendMatchesByID(t *testing.T) {
	ts := echoServer(t, func(req *wire.Request) [][]byte {
		// An unmatched frame first, then the real reply. The caller must
		// discard the stray and still resolve on the matching id.
		return [][]byte{
			resultFrame(req.ID+1000, `{"stray":true}`),
			resultFrame(req.ID, `{"ok":true}`),
		}
	})
	defer ts.Close()

	tr := NewWebsocket(wsURL(ts), Options{Timeout: 2 * time.Second})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), wire.NewRequest(7, "tools/list", nil))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(string(resp.Result), "ok") {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestWebsocketConcurrentCallsShareOneConnection(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var req wire.Request
			if json.Unmarshal(data, &req) != nil {
				continue
			}
			if err := conn.Write(r.Context(), websocket.MessageText, resultFrame(req.ID, `{}`)); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	tr := NewWebsocket(wsURL(ts), Options{Timeout: 2 * time.Second})
	defer tr.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := tr.Send(context.Background(), wire.NewRequest(id, "tools/call", nil)); err != nil {
				errs <- err
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent send: %v", err)
	}
	if got := conns.Load(); got != 1 {
		t.Fatalf("expected a single shared connection, server saw %d", got)
	}
}

func TestWebsocketSendTimeout(t *testing.T) {
	ts := echoServer(t, func(req *wire.Request) [][]byte { return nil })
	defer ts.Close()

	tr := NewWebsocket(wsURL(ts), Options{Timeout: 50 * time.Millisecond})
	defer tr.Close()

	_, err := tr.Send(context.Background(), wire.NewRequest(1, "tools/call", nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatalf("call timeout must classify transient")
	}
}

func TestWebsocketSessionAdoptedFromDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Mcp-Session-Id", "ws-sess")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var req wire.Request
		if json.Unmarshal(data, &req) == nil {
			_ = conn.Write(r.Context(), websocket.MessageText, resultFrame(req.ID, `{}`))
		}
		<-r.Context().Done()
	}))
	defer ts.Close()

	store := &memStore{}
	tr := NewWebsocket(wsURL(ts), Options{Timeout: 2 * time.Second, Session: store})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), wire.NewRequest(1, "initialize", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if store.SessionID() != "ws-sess" {
		t.Fatalf("session id not adopted from handshake, got %q", store.SessionID())
	}
}

func TestWebsocketDuplicateIDRejected(t *testing.T) {
	ts := echoServer(t, func(req *wire.Request) [][]byte { return nil })
	defer ts.Close()

	tr := NewWebsocket(wsURL(ts), Options{Timeout: 2 * time.Second})
	defer tr.Close()

	go func() {
		_, _ = tr.Send(context.Background(), wire.NewRequest(5, "tools/call", nil))
	}()
	// Wait for the first call to register before colliding with it.
	deadline := time.Now().Add(time.Second)
	for {
		tr.mu.Lock()
		_, inFlight := tr.pending[5]
		tr.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first call never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := tr.Send(context.Background(), wire.NewRequest(5, "tools/call", nil)); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
}

func TestWebsocketServerCloseFailsPendingAndRedials(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if calls.Add(1) == 1 {
			// First connection drops without answering.
			conn.CloseNow()
			return
		}
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var req wire.Request
			if json.Unmarshal(data, &req) == nil {
				_ = conn.Write(r.Context(), websocket.MessageText, resultFrame(req.ID, `{}`))
			}
		}
	}))
	defer ts.Close()

	tr := NewWebsocket(wsURL(ts), Options{Timeout: 2 * time.Second})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), wire.NewRequest(1, "tools/call", nil)); err == nil {
		t.Fatalf("expected failure from dropped connection")
	}

	// Wait for the read loop to finish tearing the dead connection down.
	deadline := time.Now().Add(time.Second)
	for {
		tr.mu.Lock()
		gone := tr.conn == nil
		tr.mu.Unlock()
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dead connection never torn down")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Next call dials a fresh connection.
	resp, err := tr.Send(context.Background(), wire.NewRequest(2, "tools/call", nil))
	if err != nil {
		t.Fatalf("send after redial: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected reply after redial")
	}
}
