// internal/status/writer_test.go
package status

import (
	"encoding/json"
	"os"
	"testing"
)

func snap(port string, health uint16) Snapshot {
	return Snapshot{
		Port:           port,
		PollingEnabled: true,
		Health:         health,
		Stations: []StationInfo{
			{Station: 1, Kind: "holding", Address: 0, Length: 10, Role: "master"},
		},
		LogCounters: map[string]uint64{"info": 1},
		UpdatedAt:   "2026-01-01T00:00:00Z",
	}
}

func mtime(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi.ModTime().UnixNano()
}

func TestWrite_PersistsDocument(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Write(snap("/dev/ttyUSB0", HealthOK)); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(w.Path("/dev/ttyUSB0"))
	if err != nil {
		t.Fatal(err)
	}
	var got Snapshot
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Port != "/dev/ttyUSB0" || got.Health != HealthOK || len(got.Stations) != 1 {
		t.Fatalf("document: %+v", got)
	}
}

func TestWrite_SkipsUnchanged(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := snap("/dev/ttyUSB0", HealthOK)
	if err := w.Write(s); err != nil {
		t.Fatal(err)
	}
	before := mtime(t, w.Path(s.Port))

	// Same content, new timestamp: no rewrite.
	s2 := s
	s2.UpdatedAt = "2026-01-01T00:01:00Z"
	if err := w.Write(s2); err != nil {
		t.Fatal(err)
	}
	if mtime(t, w.Path(s.Port)) != before {
		t.Fatal("unchanged snapshot rewrote the document")
	}
}

func TestWrite_RewritesOnChange(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Write(snap("/dev/ttyUSB0", HealthOK)); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(snap("/dev/ttyUSB0", HealthError)); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(w.Path("/dev/ttyUSB0"))
	if err != nil {
		t.Fatal(err)
	}
	var got Snapshot
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Health != HealthError {
		t.Fatalf("health = %d after change", got.Health)
	}
}

func TestWrite_ReassertsAfterFailure(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := snap("/dev/ttyUSB0", HealthOK)
	if err := w.Write(s); err != nil {
		t.Fatal(err)
	}

	// Make the directory unwritable so the next write fails.
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	s2 := s
	s2.Health = HealthError
	if err := w.Write(s2); err == nil {
		t.Skip("running with privileges that ignore directory permissions")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Even an unchanged-looking snapshot must land after a failure.
	if err := w.Write(s2); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(w.Path(s.Port))
	if err != nil {
		t.Fatal(err)
	}
	var got Snapshot
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Health != HealthError {
		t.Fatalf("health = %d after recovery", got.Health)
	}
}

func TestRemove(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := snap("/dev/ttyUSB0", HealthOK)
	if err := w.Write(s); err != nil {
		t.Fatal(err)
	}
	w.Remove(s.Port)

	if _, err := os.Stat(w.Path(s.Port)); !os.IsNotExist(err) {
		t.Fatalf("document still present: %v", err)
	}
}

func TestPathSanitizesName(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := w.Path("/dev/ttyUSB0")
	if got := p[len(p)-len("_dev_ttyUSB0.json"):]; got != "_dev_ttyUSB0.json" {
		t.Fatalf("path = %q", p)
	}
}

func TestSnapshotEqualIgnoresTimestamp(t *testing.T) {
	a := snap("/dev/ttyUSB0", HealthOK)
	b := snap("/dev/ttyUSB0", HealthOK)
	b.UpdatedAt = "2030-01-01T00:00:00Z"
	if !a.Equal(b) {
		t.Fatal("timestamp alone broke equality")
	}

	b.LogCounters = map[string]uint64{"info": 2}
	if a.Equal(b) {
		t.Fatal("counter change not detected")
	}
}
