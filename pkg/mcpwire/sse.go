package mcpwire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// SSEReader is a pull-driven iterator over server-sent events,
// materializing whole JSON-RPC messages from "data:" lines. Per the
// design note in spec.md §9, this parser is used only by the Health
// Monitor (which needs complete messages to drive the handshake) and
// never by the Edge Router, which must not assume SSE message
// boundaries when merely forwarding bytes.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps r as a line-oriented SSE event source.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{scanner: sc}
}

// Next returns the JSON payload of the next "data:" line, skipping
// blank lines, comments (":"-prefixed) and other SSE fields. It returns
// io.EOF once the underlying stream ends without producing more events.
func (r *SSEReader) Next() (json.RawMessage, error) {
	var data bytes.Buffer

	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				return json.RawMessage(bytes.TrimSpace(data.Bytes())), nil
			}
			continue
		case bytes.HasPrefix([]byte(line), []byte(":")):
			continue
		case bytes.HasPrefix([]byte(line), []byte("data:")):
			chunk := line[len("data:"):]
			if len(chunk) > 0 && chunk[0] == ' ' {
				chunk = chunk[1:]
			}
			data.WriteString(chunk)
		default:
			// event:, id:, retry: and unknown fields carry no payload we need.
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading SSE stream: %w", err)
	}
	if data.Len() > 0 {
		return json.RawMessage(bytes.TrimSpace(data.Bytes())), nil
	}
	return nil, io.EOF
}

// DecodeResponse reads the next SSE event and parses it as a
// JSON-RPC Response.
func (r *SSEReader) DecodeResponse() (Response, error) {
	raw, err := r.Next()
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decoding SSE JSON-RPC message: %w", err)
	}
	return resp, nil
}
