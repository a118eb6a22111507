// internal/ipc/connect.go
package ipc

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Endpoint naming: a transport base name expands into two unix socket
// paths, one per direction. Suffixes are fixed so that both sides derive
// the same pair from the base alone.
//
//	<base>.in  : the listener reads here, the dialer writes
//	<base>.out : the listener writes here, the dialer reads
func endpointPaths(base string) (inPath, outPath string) {
	return base + ".in", base + ".out"
}

const (
	// DefaultConnectTimeout bounds the dialer's whole retry window.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRetryInterval spaces the dialer's connect attempts.
	DefaultRetryInterval = 100 * time.Millisecond
	// defaultAcceptTimeout bounds how long a listener waits for its peer.
	defaultAcceptTimeout = 30 * time.Second
)

// Listener owns the two one-directional endpoints of the server-initiates
// topology. Created before the peer exists; Accept blocks until both
// streams are connected.
type Listener struct {
	base string
	lin  net.Listener
	lout net.Listener
}

// Listen creates both endpoints for a transport base name, replacing any
// stale socket files left by a previous run.
func Listen(base string) (*Listener, error) {
	inPath, outPath := endpointPaths(base)
	_ = os.Remove(inPath)
	_ = os.Remove(outPath)

	lin, err := net.Listen("unix", inPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", inPath, err)
	}
	lout, err := net.Listen("unix", outPath)
	if err != nil {
		lin.Close()
		return nil, fmt.Errorf("ipc: listen %s: %w", outPath, err)
	}
	return &Listener{base: base, lin: lin, lout: lout}, nil
}

// Accept blocks until the peer has connected both streams, then returns
// the transport. acceptTimeout bounds the whole wait; zero selects the
// package default. The listener sockets are closed either way; a
// Listener accepts exactly one peer.
func (l *Listener) Accept(acceptTimeout, ioTimeout time.Duration) (*Transport, error) {
	defer l.Close()
	if acceptTimeout <= 0 {
		acceptTimeout = defaultAcceptTimeout
	}

	type result struct {
		conn net.Conn
		err  error
	}
	acceptOne := func(ln net.Listener, ch chan<- result) {
		c, err := ln.Accept()
		ch <- result{c, err}
	}

	chIn := make(chan result, 1)
	chOut := make(chan result, 1)
	go acceptOne(l.lin, chIn)
	go acceptOne(l.lout, chOut)

	timer := time.NewTimer(acceptTimeout)
	defer timer.Stop()

	var in, out net.Conn
	for in == nil || out == nil {
		select {
		case r := <-chIn:
			if r.err != nil {
				closeBoth(in, out)
				return nil, fmt.Errorf("ipc: accept in: %w", r.err)
			}
			in = r.conn
		case r := <-chOut:
			if r.err != nil {
				closeBoth(in, out)
				return nil, fmt.Errorf("ipc: accept out: %w", r.err)
			}
			out = r.conn
		case <-timer.C:
			closeBoth(in, out)
			return nil, fmt.Errorf("ipc: accept %s: peer never connected", l.base)
		}
	}
	return NewTransport(in, out, ioTimeout), nil
}

// Close tears down the listener sockets and removes the socket files.
func (l *Listener) Close() error {
	inPath, outPath := endpointPaths(l.base)
	err1 := l.lin.Close()
	err2 := l.lout.Close()
	_ = os.Remove(inPath)
	_ = os.Remove(outPath)
	if err1 != nil {
		return err1
	}
	return err2
}

func closeBoth(a, b net.Conn) {
	if a != nil {
		a.Close()
	}
	if b != nil {
		b.Close()
	}
}

// DialStreams is the client-connects topology: retry connecting to the
// known endpoint names until both streams are up or the timeout elapses.
func DialStreams(base string, timeout, interval time.Duration) (in, out net.Conn, err error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	inPath, outPath := endpointPaths(base)
	deadline := time.Now().Add(timeout)

	// The listener's ".in" is where we write; its ".out" is where we read.
	for {
		out, err = net.Dial("unix", inPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("ipc: dial %s: %w", inPath, err)
		}
		time.Sleep(interval)
	}
	for {
		in, err = net.Dial("unix", outPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			out.Close()
			return nil, nil, fmt.Errorf("ipc: dial %s: %w", outPath, err)
		}
		time.Sleep(interval)
	}
	return in, out, nil
}

// Dial connects the binary production transport to an already-listening
// peer. Used by a worker process finding its front end.
func Dial(base string, timeout, interval, ioTimeout time.Duration) (*Transport, error) {
	in, out, err := DialStreams(base, timeout, interval)
	if err != nil {
		return nil, err
	}
	return NewTransport(in, out, ioTimeout), nil
}
