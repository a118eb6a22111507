// internal/worker/config.go
package worker

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config describes one worker process launch. It mirrors the worker
// command-line contract; the manager only assembles flags from it.
type Config struct {
	Binary string

	Port string
	Baud int

	// Role is one of master-provide[-persist], slave-listen[-persist],
	// slave-poll[-persist].
	Role string

	Station         uint8
	RegisterKind    string
	RegisterAddress uint16
	RegisterLength  uint16

	// DataSource is the optional data-source URI.
	DataSource string

	IPCDir         string
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	IOTimeout      time.Duration
}

var validRoles = map[string]bool{
	"master-provide": true, "master-provide-persist": true,
	"slave-listen": true, "slave-listen-persist": true,
	"slave-poll": true, "slave-poll-persist": true,
}

func (c Config) validate() error {
	if c.Binary == "" {
		return fmt.Errorf("worker: binary required")
	}
	if c.Port == "" {
		return fmt.Errorf("worker: port required")
	}
	if !validRoles[c.Role] {
		return fmt.Errorf("worker: invalid role %q", c.Role)
	}
	return nil
}

// EndpointBase derives the IPC endpoint base name for a port. Both the
// manager and the worker build the same value from the port name alone.
func EndpointBase(dir, port string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(port)
	return filepath.Join(dir, "portworker-"+safe)
}

// args renders the command line per the worker contract.
func (c Config) args() []string {
	a := []string{
		"-role", c.Role,
		"-port", c.Port,
		"-baud", fmt.Sprint(c.Baud),
		"-station", fmt.Sprint(c.Station),
		"-register-kind", c.RegisterKind,
		"-register-address", fmt.Sprint(c.RegisterAddress),
		"-register-length", fmt.Sprint(c.RegisterLength),
		"-ipc", EndpointBase(c.IPCDir, c.Port),
	}
	if c.DataSource != "" {
		a = append(a, "-data-source", c.DataSource)
	}
	return a
}
