// internal/worker/config_test.go
package worker

import (
	"reflect"
	"testing"
)

func TestEndpointBase(t *testing.T) {
	got := EndpointBase("/tmp/run", "/dev/ttyUSB0")
	if got != "/tmp/run/portworker-_dev_ttyUSB0" {
		t.Fatalf("base = %q", got)
	}
}

func TestArgsContract(t *testing.T) {
	cfg := Config{
		Binary:          "portworker",
		Port:            "/dev/ttyUSB0",
		Baud:            19200,
		Role:            "slave-listen-persist",
		Station:         7,
		RegisterKind:    "holding",
		RegisterAddress: 100,
		RegisterLength:  16,
		DataSource:      "file:/tmp/values.json",
		IPCDir:          "/tmp/run",
	}

	want := []string{
		"-role", "slave-listen-persist",
		"-port", "/dev/ttyUSB0",
		"-baud", "19200",
		"-station", "7",
		"-register-kind", "holding",
		"-register-address", "100",
		"-register-length", "16",
		"-ipc", "/tmp/run/portworker-_dev_ttyUSB0",
		"-data-source", "file:/tmp/values.json",
	}
	if got := cfg.args(); !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v", got)
	}
}

func TestValidateRoles(t *testing.T) {
	base := Config{Binary: "portworker", Port: "/dev/ttyUSB0"}
	for _, role := range []string{
		"master-provide", "master-provide-persist",
		"slave-listen", "slave-listen-persist",
		"slave-poll", "slave-poll-persist",
	} {
		cfg := base
		cfg.Role = role
		if err := cfg.validate(); err != nil {
			t.Fatalf("%s: %v", role, err)
		}
	}

	for _, cfg := range []Config{
		{Port: "/dev/ttyUSB0", Role: "master-provide"},
		{Binary: "portworker", Role: "master-provide"},
		{Binary: "portworker", Port: "/dev/ttyUSB0", Role: "master"},
	} {
		if err := cfg.validate(); err == nil {
			t.Fatalf("accepted %+v", cfg)
		}
	}
}
