// Package wire defines the JSON-RPC 2.0 envelopes exchanged with the remote
// PocketMCP peer. Payloads are kept as raw JSON wherever the bridge does not
// need to look inside them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried on every envelope.
const Version = "2.0"

// Request is an outbound call. Notifications carry a zero ID and expect no
// reply.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a call envelope with the given id.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification builds a fire-and-forget envelope without an id.
func NewNotification(method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

// IsNotification reports whether the request expects no reply.
func (r *Request) IsNotification() bool { return r.ID == 0 }

// Response is a decoded reply. Exactly one of Result and Error is populated
// on a completed call.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MatchesID reports whether the reply correlates with the given request id.
func (r *Response) MatchesID(id int64) bool {
	if len(r.ID) == 0 {
		return false
	}
	var got int64
	if err := json.Unmarshal(r.ID, &got); err != nil {
		return false
	}
	return got == id
}

// Valid reports whether the response looks like a JSON-RPC reply at all:
// it must carry a result or an error (an id alone is not enough).
func (r *Response) Valid() bool {
	return r != nil && (len(r.Result) > 0 || r.Error != nil)
}

// Error is a well-formed JSON-RPC error object returned by the peer.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
