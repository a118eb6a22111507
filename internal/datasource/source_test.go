// internal/datasource/source_test.go
package datasource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want Source
	}{
		{"file:/tmp/values.json", Source{Scheme: File, Path: "/tmp/values.json"}},
		{"pipe:/tmp/feed", Source{Scheme: Pipe, Path: "/tmp/feed"}},
		{"ipc:slave-usb0", Source{Scheme: IPC, Path: "slave-usb0"}},
		{"mqtt://broker:1883/plant/line1", Source{Scheme: MQTT, Host: "broker:1883", Topic: "plant/line1"}},
		{"python:external:/opt/scripts/gen.py", Source{Scheme: PythonExternal, Path: "/opt/scripts/gen.py"}},
	}
	for _, c := range cases {
		got, err := Parse(c.raw)
		if err != nil {
			t.Fatalf("%q: %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %+v, want %+v", c.raw, got, c.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"ftp://host/path",
		"file:",
		"pipe:",
		"ipc:",
		"mqtt://broker:1883",
		"mqtt:///topic",
		"python:external:",
	}
	for _, raw := range bad {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("%q: accepted", raw)
		}
	}
}

func TestOpenExternalSchemes(t *testing.T) {
	for _, src := range []Source{
		{Scheme: MQTT, Host: "broker", Topic: "t"},
		{Scheme: PythonExternal, Path: "/x.py"},
	} {
		_, err := Open(src)
		if !errors.Is(err, ErrExternalAdapter) {
			t.Fatalf("%v: err = %v, want ErrExternalAdapter", src.Scheme, err)
		}
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.json")
	if err := os.WriteFile(path, []byte("[10, 20, 30]"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(Source{Scheme: File, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	values, err := p.Values(5)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint16{10, 20, 30, 0, 0}
	if len(values) != len(want) {
		t.Fatalf("values = %v", values)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("values = %v, want %v", values, want)
		}
	}

	// The file is re-read on every call.
	if err := os.WriteFile(path, []byte("[99]"), 0o644); err != nil {
		t.Fatal(err)
	}
	values, err = p.Values(1)
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != 99 {
		t.Fatalf("values = %v after rewrite", values)
	}
}

func TestFileProviderBadContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(Source{Scheme: File, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Values(1); err == nil {
		t.Fatal("malformed file accepted")
	}
}

func TestPushProvider(t *testing.T) {
	p := NewPushProvider()

	values, err := p.Values(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 3 || values[0] != 0 {
		t.Fatalf("fresh provider values = %v", values)
	}

	p.Push([]uint16{5, 6})
	values, _ = p.Values(4)
	if values[0] != 5 || values[1] != 6 || values[3] != 0 {
		t.Fatalf("values = %v", values)
	}
}
