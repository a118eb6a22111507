// internal/config/normalize.go
package config

// Defaults applied by Normalize.
const (
	DefaultScanIntervalMs = 2000
	DefaultTickIntervalMs = 50
	DefaultTimeoutMs      = 3000
	DefaultBaud           = 9600

	DefaultConnectTimeoutMs = 10000
	DefaultRetryIntervalMs  = 100
	DefaultIOTimeoutMs      = 5000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	c := &cfg.Console

	if c.ScanIntervalMs == 0 {
		c.ScanIntervalMs = DefaultScanIntervalMs
	}
	if c.TickIntervalMs == 0 {
		c.TickIntervalMs = DefaultTickIntervalMs
	}
	if c.WorkerBinary == "" {
		c.WorkerBinary = "portworker"
	}
	if c.IPC.Dir == "" {
		c.IPC.Dir = "/tmp"
	}
	if c.IPC.ConnectTimeoutMs == 0 {
		c.IPC.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}
	if c.IPC.RetryIntervalMs == 0 {
		c.IPC.RetryIntervalMs = DefaultRetryIntervalMs
	}
	if c.IPC.IOTimeoutMs == 0 {
		c.IPC.IOTimeoutMs = DefaultIOTimeoutMs
	}

	for i := range c.Ports {
		p := &c.Ports[i]
		if p.Baud == 0 {
			p.Baud = DefaultBaud
		}
		if p.TimeoutMs == 0 {
			p.TimeoutMs = DefaultTimeoutMs
		}
	}
}
