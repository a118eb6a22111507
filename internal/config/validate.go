// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/celestia-island/aoba-sub003/internal/datasource"
	"github.com/celestia-island/aoba-sub003/internal/registers"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	seen := make(map[string]bool)

	for _, p := range cfg.Console.Ports {
		if p.Name == "" {
			return fmt.Errorf("port with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("port %q: defined twice", p.Name)
		}
		seen[p.Name] = true

		if p.Baud < 0 {
			return fmt.Errorf("port %q: negative baud rate %d", p.Name, p.Baud)
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("port %q: negative timeout_ms %d", p.Name, p.TimeoutMs)
		}

		// ------------------------------------------------------------
		// RANGE GEOMETRY VALIDATION
		// ------------------------------------------------------------

		for i, r := range p.Ranges {
			if _, err := registers.ParseKind(r.Kind); err != nil {
				return fmt.Errorf("port %q range %d: unknown kind %q", p.Name, i, r.Kind)
			}
			if r.Role != "master" && r.Role != "slave" {
				return fmt.Errorf("port %q range %d: role must be master or slave, got %q", p.Name, i, r.Role)
			}
			if r.Length == 0 {
				return fmt.Errorf("port %q range %d: zero-length range", p.Name, i)
			}
			if int(r.Address)+int(r.Length) > 0x10000 {
				return fmt.Errorf("port %q range %d: range exceeds address space", p.Name, i)
			}
			if r.DataSource != "" {
				if _, err := datasource.Parse(r.DataSource); err != nil {
					return fmt.Errorf("port %q range %d: %v", p.Name, i, err)
				}
			}
		}
	}

	if cfg.Console.IPC.ConnectTimeoutMs < 0 ||
		cfg.Console.IPC.RetryIntervalMs < 0 ||
		cfg.Console.IPC.IOTimeoutMs < 0 {
		return fmt.Errorf("ipc timeouts must not be negative")
	}

	return nil
}
