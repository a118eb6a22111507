// internal/status/writer.go
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer persists per-port status documents for external observation.
// Documents are written only when the snapshot changed; any write failure
// forces a full rewrite on the next successful call.
type Writer struct {
	dir string

	last     map[string]Snapshot
	needFull map[string]bool
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &Writer{
		dir:      dir,
		last:     make(map[string]Snapshot),
		needFull: make(map[string]bool),
	}, nil
}

// Path returns the document path for a port.
func (w *Writer) Path(port string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(port)
	return filepath.Join(w.dir, safe+".json")
}

// Write persists one port snapshot if it differs from the last persisted
// one. A failed write introduces doubt; the next call re-asserts.
func (w *Writer) Write(s Snapshot) error {
	if !w.needFull[s.Port] {
		if prev, ok := w.last[s.Port]; ok && prev.Equal(s) {
			return nil
		}
	}

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(w.Path(s.Port), raw); err != nil {
		w.needFull[s.Port] = true
		return fmt.Errorf("status: write %s: %w", s.Port, err)
	}
	w.needFull[s.Port] = false
	w.last[s.Port] = s
	return nil
}

// Remove deletes the document of a port that disappeared.
func (w *Writer) Remove(port string) {
	_ = os.Remove(w.Path(port))
	delete(w.last, port)
	delete(w.needFull, port)
}

// atomicWrite lands the document via temp-file rename so observers never
// see a partial JSON body.
func atomicWrite(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
