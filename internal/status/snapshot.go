// internal/status/snapshot.go
package status

// Health codes persisted in port status documents.
const (
	HealthUnknown uint16 = 0
	HealthOK      uint16 = 1
	HealthError   uint16 = 2
)

// StationInfo is one register range as the status document shows it.
type StationInfo struct {
	Station uint8  `json:"station"`
	Kind    string `json:"kind"`
	Address uint16 `json:"address"`
	Length  uint16 `json:"length"`
	Role    string `json:"role"`
}

// Snapshot represents exactly what the writer is allowed to persist for
// one port. It contains no logic and no memory of the past beyond
// current state.
type Snapshot struct {
	Port           string            `json:"port"`
	PollingEnabled bool              `json:"polling_enabled"`
	Health         uint16            `json:"health"`
	Stations       []StationInfo     `json:"stations"`
	LogCounters    map[string]uint64 `json:"log_counters"`
	UpdatedAt      string            `json:"updated_at"`
}

// Equal compares everything except the timestamp, which changes on every
// tick and must not force a rewrite by itself.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Port != o.Port || s.PollingEnabled != o.PollingEnabled || s.Health != o.Health {
		return false
	}
	if len(s.Stations) != len(o.Stations) {
		return false
	}
	for i := range s.Stations {
		if s.Stations[i] != o.Stations[i] {
			return false
		}
	}
	if len(s.LogCounters) != len(o.LogCounters) {
		return false
	}
	for k, v := range s.LogCounters {
		if o.LogCounters[k] != v {
			return false
		}
	}
	return true
}
