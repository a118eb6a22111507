// internal/ipc/transport.go
package ipc

import (
	"errors"
	"net"
	"time"
)

// DefaultIOTimeout bounds every blocking read or write on the transport.
// A deadline hit is a failure, never a silent retry.
const DefaultIOTimeout = 5 * time.Second

// Transport is one end of the production IPC channel: two independent
// one-directional byte streams carrying framed msgpack messages. Two
// streams rather than one bidirectional one keeps the read and write
// loops lock-free.
type Transport struct {
	in        net.Conn
	out       net.Conn
	ioTimeout time.Duration
}

// NewTransport pairs a receive stream and a send stream. A zero timeout
// selects DefaultIOTimeout.
func NewTransport(in, out net.Conn, ioTimeout time.Duration) *Transport {
	if ioTimeout <= 0 {
		ioTimeout = DefaultIOTimeout
	}
	return &Transport{in: in, out: out, ioTimeout: ioTimeout}
}

// Send serializes and frames one message. Blocks at most the I/O timeout.
func (t *Transport) Send(m Message) error {
	body, err := encodeBinary(m)
	if err != nil {
		return err
	}
	if err := t.out.SetWriteDeadline(time.Now().Add(t.ioTimeout)); err != nil {
		return err
	}
	return writeFrame(t.out, body)
}

// Recv blocks for the next message, at most the I/O timeout. Framing
// errors wrap ErrDesynchronized and require tearing the transport down.
func (t *Transport) Recv() (Message, error) {
	if err := t.in.SetReadDeadline(time.Now().Add(t.ioTimeout)); err != nil {
		return Message{}, err
	}
	body, err := readFrame(t.in)
	if err != nil {
		return Message{}, err
	}
	return decodeBinary(body)
}

// RecvWait is Recv with a caller-chosen deadline, for loops that want to
// wake on their own schedule.
func (t *Transport) RecvWait(d time.Duration) (Message, error) {
	if err := t.in.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Message{}, err
	}
	body, err := readFrame(t.in)
	if err != nil {
		return Message{}, err
	}
	return decodeBinary(body)
}

// Close closes both streams.
func (t *Transport) Close() error {
	errIn := t.in.Close()
	errOut := t.out.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}

// IsTimeout reports whether err is a deadline hit rather than a broken
// or desynchronized stream.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
