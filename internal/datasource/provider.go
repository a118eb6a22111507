// internal/datasource/provider.go
package datasource

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Provider yields the current register values a slave-role worker serves.
type Provider interface {
	// Values returns at least n values; short sources are zero-padded.
	Values(n int) ([]uint16, error)
	Close() error
}

// Open builds a provider for locally-servable schemes. MQTT and Python
// sources are fed by external adapter processes and report
// ErrExternalAdapter here.
func Open(src Source) (Provider, error) {
	switch src.Scheme {
	case File:
		return &fileProvider{path: src.Path}, nil
	case Pipe:
		return newPipeProvider(src.Path)
	case IPC:
		return NewPushProvider(), nil
	case MQTT, PythonExternal:
		return nil, fmt.Errorf("%w: %s", ErrExternalAdapter, src.Scheme)
	default:
		return nil, fmt.Errorf("datasource: unknown scheme %d", src.Scheme)
	}
}

func pad(values []uint16, n int) []uint16 {
	for len(values) < n {
		values = append(values, 0)
	}
	return values
}

// ---- file: JSON array of values, re-read on every refresh ----

type fileProvider struct {
	path string
}

func (f *fileProvider) Values(n int) ([]uint16, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var values []uint16
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("datasource: %s: %w", f.path, err)
	}
	return pad(values, n), nil
}

func (f *fileProvider) Close() error { return nil }

// ---- pipe: whitespace-separated values streamed from a named pipe ----

type pipeProvider struct {
	f  *os.File
	sc *bufio.Scanner

	mu     sync.Mutex
	latest []uint16
}

func newPipeProvider(path string) (*pipeProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p := &pipeProvider{f: f}
	p.sc = bufio.NewScanner(f)
	p.sc.Split(bufio.ScanWords)
	go p.drain()
	return p, nil
}

// drain consumes the pipe as values arrive so a slow producer never
// blocks the serving path.
func (p *pipeProvider) drain() {
	var row []uint16
	for p.sc.Scan() {
		v, err := strconv.ParseUint(p.sc.Text(), 10, 16)
		if err != nil {
			continue
		}
		row = append(row, uint16(v))
		p.mu.Lock()
		p.latest = append([]uint16(nil), row...)
		p.mu.Unlock()
	}
}

func (p *pipeProvider) Values(n int) ([]uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pad(append([]uint16(nil), p.latest...), n), nil
}

func (p *pipeProvider) Close() error { return p.f.Close() }

// ---- ipc: values pushed from the front end via StationsUpdate ----

// PushProvider holds values pushed over the IPC channel.
type PushProvider struct {
	mu     sync.Mutex
	latest []uint16
}

func NewPushProvider() *PushProvider { return &PushProvider{} }

// Push replaces the served values.
func (p *PushProvider) Push(values []uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = append([]uint16(nil), values...)
}

func (p *PushProvider) Values(n int) ([]uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pad(append([]uint16(nil), p.latest...), n), nil
}

func (p *PushProvider) Close() error { return nil }
