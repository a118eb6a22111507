// internal/datasource/source.go
package datasource

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme selects how a worker obtains register values to serve.
type Scheme uint8

const (
	File Scheme = iota + 1
	Pipe
	IPC
	MQTT
	PythonExternal
)

func (s Scheme) String() string {
	switch s {
	case File:
		return "file"
	case Pipe:
		return "pipe"
	case IPC:
		return "ipc"
	case MQTT:
		return "mqtt"
	case PythonExternal:
		return "python:external"
	default:
		return "unknown"
	}
}

// Source is a parsed data-source URI.
type Source struct {
	Scheme Scheme

	// Path holds the file, pipe, or script path, or the ipc endpoint base.
	Path string

	// Host and Topic are set for mqtt sources only.
	Host  string
	Topic string
}

// ErrExternalAdapter marks schemes served by a separate adapter process
// rather than by this module.
var ErrExternalAdapter = errors.New("datasource: scheme requires an external adapter process")

// Parse decodes one of the worker data-source URI forms:
//
//	file:<path>  pipe:<path>  ipc:<endpoint>
//	mqtt://host:port/topic
//	python:external:<path>
func Parse(raw string) (Source, error) {
	switch {
	case strings.HasPrefix(raw, "python:external:"):
		p := strings.TrimPrefix(raw, "python:external:")
		if p == "" {
			return Source{}, fmt.Errorf("datasource: python:external needs a script path")
		}
		return Source{Scheme: PythonExternal, Path: p}, nil

	case strings.HasPrefix(raw, "mqtt://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Source{}, fmt.Errorf("datasource: %w", err)
		}
		topic := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || topic == "" {
			return Source{}, fmt.Errorf("datasource: mqtt uri needs host and topic: %q", raw)
		}
		return Source{Scheme: MQTT, Host: u.Host, Topic: topic}, nil

	case strings.HasPrefix(raw, "file:"):
		p := strings.TrimPrefix(raw, "file:")
		if p == "" {
			return Source{}, fmt.Errorf("datasource: file uri needs a path")
		}
		return Source{Scheme: File, Path: p}, nil

	case strings.HasPrefix(raw, "pipe:"):
		p := strings.TrimPrefix(raw, "pipe:")
		if p == "" {
			return Source{}, fmt.Errorf("datasource: pipe uri needs a path")
		}
		return Source{Scheme: Pipe, Path: p}, nil

	case strings.HasPrefix(raw, "ipc:"):
		p := strings.TrimPrefix(raw, "ipc:")
		if p == "" {
			return Source{}, fmt.Errorf("datasource: ipc uri needs an endpoint name")
		}
		return Source{Scheme: IPC, Path: p}, nil

	default:
		return Source{}, fmt.Errorf("datasource: unknown scheme in %q", raw)
	}
}
