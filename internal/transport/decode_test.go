package transport

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeJSONResult(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	resp, err := Decode(body, "application/json")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp == nil || len(resp.Result) == 0 {
		t.Fatalf("expected result payload, got %+v", resp)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error payload: %+v", resp.Error)
	}
}

func TestDecodeJSONError(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"boom"}}`)
	resp, err := Decode(body, "application/json; charset=utf-8")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Message != "boom" {
		t.Fatalf("expected error payload, got %+v", resp)
	}
	if len(resp.Result) != 0 {
		t.Fatalf("result and error must not both be populated")
	}
}

func TestDecodeJSONParseFailureYieldsNil(t *testing.T) {
	resp, err := Decode([]byte("not json at all"), "application/json")
	if err != nil {
		t.Fatalf("parse failure must not raise, got %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil payload, got %+v", resp)
	}
}

func TestDecodeEventStreamFirstBlockWins(t *testing.T) {
	body := strings.Join([]string{
		"event: message",
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"first\":true}}",
		"",
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"second\":true}}",
		"",
		"data: [DONE]",
		"",
	}, "\n")
	resp, err := Decode([]byte(body), "text/event-stream")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(resp.Result), "first") {
		t.Fatalf("expected first block, got %s", resp.Result)
	}
}

func TestDecodeEventStreamSkipsUnparseableBlocks(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive comment",
		"",
		"data: not json",
		"",
		"data: [DONE]",
		"",
		"event: message",
		"data: {\"jsonrpc\":\"2.0\",\"id\":3,",
		"data:  \"result\":{\"ok\":true}}",
		"",
	}, "\n")
	resp, err := Decode([]byte(body), "text/event-stream; charset=utf-8")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(resp.Result), "ok") {
		t.Fatalf("expected reassembled block, got %s", resp.Result)
	}
}

func TestDecodeEventStreamCRLF(t *testing.T) {
	body := "event: message\r\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\r\n\r\n"
	resp, err := Decode([]byte(body), "text/event-stream")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp == nil || len(resp.Result) == 0 {
		t.Fatalf("expected payload, got %+v", resp)
	}
}

func TestDecodeEventStreamNoPayloadFails(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"sentinel only": "data: [DONE]\n\n",
		"non json":      "data: hello\n\ndata: world\n\n",
		"no result":     "data: {\"jsonrpc\":\"2.0\",\"id\":1}\n\n",
	}
	for name, body := range cases {
		if _, err := Decode([]byte(body), "text/event-stream"); !errors.Is(err, ErrNoResponse) {
			t.Fatalf("%s: expected ErrNoResponse, got %v", name, err)
		}
	}
}
