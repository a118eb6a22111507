// internal/ipc/frame.go
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire framing per message:
//
//	uint32 total_length (big endian)
//	uint32 chunk_count  (big endian)
//	chunk_count chunks of <= chunkSize bytes, concatenated = body
//	3-byte literal trailer
//
// A missing or mismatched trailer desynchronizes the connection; the
// caller must tear it down, not retry in place.

const (
	chunkSize   = 1024
	maxBodySize = 16 << 20
)

var ackTrailer = [3]byte{'A', 'C', 'K'}

// ErrDesynchronized marks a connection whose framing can no longer be
// trusted. Fatal for the connection.
var ErrDesynchronized = errors.New("ipc: stream desynchronized")

func chunkCountFor(total int) uint32 {
	return uint32((total + chunkSize - 1) / chunkSize)
}

// writeFrame sends one framed message body.
func writeFrame(w io.Writer, body []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(header[4:8], chunkCountFor(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	for off := 0; off < len(body); off += chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		if _, err := w.Write(body[off:end]); err != nil {
			return fmt.Errorf("ipc: write chunk: %w", err)
		}
	}
	if _, err := w.Write(ackTrailer[:]); err != nil {
		return fmt.Errorf("ipc: write trailer: %w", err)
	}
	return nil
}

// readFrame receives one framed message body, validating chunk metadata
// and the acknowledgement trailer.
func readFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(header[0:4])
	chunks := binary.BigEndian.Uint32(header[4:8])
	if total > maxBodySize {
		return nil, fmt.Errorf("%w: body length %d", ErrDesynchronized, total)
	}
	if chunks != chunkCountFor(int(total)) {
		return nil, fmt.Errorf("%w: %d chunks declared for %d bytes", ErrDesynchronized, chunks, total)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var trailer [3]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, fmt.Errorf("%w: trailer missing: %v", ErrDesynchronized, err)
	}
	if trailer != ackTrailer {
		return nil, fmt.Errorf("%w: bad trailer % X", ErrDesynchronized, trailer[:])
	}
	return body, nil
}
