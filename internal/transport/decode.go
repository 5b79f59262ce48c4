package transport

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

const contentTypeEventStream = "text/event-stream"

// sseSentinel is emitted by some peers to terminate a stream; it never
// carries a payload.
const sseSentinel = "[DONE]"

// Decode extracts exactly one JSON-RPC payload from a response body. Event
// stream bodies are unwrapped block by block and the first block carrying a
// valid payload wins; a stream with no parseable payload is an error. Plain
// bodies are parsed as a single JSON document and yield a nil payload (not an
// error) when the body does not parse, so callers can report "no body" in
// whatever terms fit their context.
func Decode(body []byte, contentType string) (*wire.Response, error) {
	if isEventStream(contentType) {
		return decodeEventStream(body)
	}
	var resp wire.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil
	}
	return &resp, nil
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(contentType))
	}
	return strings.HasPrefix(mt, contentTypeEventStream)
}

// decodeEventStream splits the body into blank-line delimited event blocks,
// reassembles each block's data lines in order, and returns the first block
// that parses as a non-sentinel JSON-RPC payload.
func decodeEventStream(body []byte) (*wire.Response, error) {
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	var data []string
	flush := func() *wire.Response {
		if len(data) == 0 {
			return nil
		}
		text := strings.Join(data, "\n")
		data = data[:0]
		if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == sseSentinel {
			return nil
		}
		var resp wire.Response
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			return nil
		}
		if !resp.Valid() {
			return nil
		}
		return &resp
	}
	for _, line := range lines {
		if line == "" {
			if resp := flush(); resp != nil {
				return resp, nil
			}
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if resp := flush(); resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream: %w", ErrNoResponse)
}
