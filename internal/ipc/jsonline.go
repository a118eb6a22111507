// internal/ipc/jsonline.go
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// The automation side-channel speaks newline-terminated JSON objects with
// a single tag key, e.g. {"KeyPress":{"key":"enter"}}. It is deliberately
// a different codec from the binary production path; the two are not
// interchangeable.

// LineConn frames JSON-line messages over any byte stream.
type LineConn struct {
	r *bufio.Reader
	w io.Writer
}

// NewLineConn wraps a stream in the JSON-line codec.
func NewLineConn(rw io.ReadWriter) *LineConn {
	return &LineConn{r: bufio.NewReader(rw), w: rw}
}

// NewLinePair wraps two one-directional streams, matching the transport
// topology.
func NewLinePair(r io.Reader, w io.Writer) *LineConn {
	return &LineConn{r: bufio.NewReader(r), w: w}
}

// Send writes one tagged-object line.
func (c *LineConn) Send(m Message) error {
	line, err := EncodeLine(m)
	if err != nil {
		return err
	}
	_, err = c.w.Write(line)
	return err
}

// Recv reads one tagged-object line.
func (c *LineConn) Recv() (Message, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return Message{}, err
	}
	return DecodeLine(line)
}

// EncodeLine renders a message as one newline-terminated tagged object.
func EncodeLine(m Message) ([]byte, error) {
	tag, ok := typeNames[m.Type]
	if !ok {
		return nil, fmt.Errorf("ipc: jsonline: unknown type %d", m.Type)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	// Unit variants serialize as an empty object rather than null so the
	// line stays a tagged object.
	obj := map[string]json.RawMessage{tag: payload}
	line, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// DecodeLine parses one tagged-object line.
func DecodeLine(line []byte) (Message, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return Message{}, fmt.Errorf("ipc: jsonline: %w", err)
	}
	if len(obj) != 1 {
		return Message{}, fmt.Errorf("ipc: jsonline: expected exactly one tag, got %d", len(obj))
	}
	for tag, payload := range obj {
		t, ok := typeByName(tag)
		if !ok {
			return Message{}, fmt.Errorf("ipc: jsonline: unknown tag %q", tag)
		}
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return Message{}, fmt.Errorf("ipc: jsonline: %w", err)
		}
		m.Type = t
		return m, nil
	}
	return Message{}, fmt.Errorf("ipc: jsonline: empty object")
}

func typeByName(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}
