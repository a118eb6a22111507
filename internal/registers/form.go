// internal/registers/form.go
package registers

import (
	"fmt"
	"time"
)

// NoInFlight marks a form with no range awaiting a response.
const NoInFlight = -1

// Form is the ordered collection of ranges for one port plus the global
// polling parameters. One form per port; the runtime loop owns focus.
type Form struct {
	Ranges []*Range

	PollingEnabled bool
	Timeout        time.Duration

	// PollRoundIndex is the round-robin cursor into Ranges.
	PollRoundIndex int

	// InFlightIndex is the index of the range with an outstanding
	// request, or NoInFlight.
	InFlightIndex int

	// Active marks a background form that still participates in polling
	// ticks. The focused form is always active.
	Active bool
}

// NewForm returns an empty form with defaults matching a fresh port.
func NewForm(timeout time.Duration) *Form {
	return &Form{
		Timeout:       timeout,
		InFlightIndex: NoInFlight,
		Active:        true,
	}
}

// AddRange validates and appends a range. Invalid geometry is rejected
// before any dispatch can see it.
func (f *Form) AddRange(r *Range) error {
	if _, err := r.Kind.FunctionCode(); err != nil {
		return err
	}
	if r.Length == 0 {
		return ErrZeroLength
	}
	if r.Role != Master && r.Role != Slave {
		return fmt.Errorf("registers: invalid role %d", r.Role)
	}
	f.Ranges = append(f.Ranges, r)
	return nil
}

// InFlight returns the in-flight range, or nil.
func (f *Form) InFlight() *Range {
	if f.InFlightIndex == NoInFlight || f.InFlightIndex >= len(f.Ranges) {
		return nil
	}
	return f.Ranges[f.InFlightIndex]
}

// AdvanceCursor moves the round-robin cursor past index i.
func (f *Form) AdvanceCursor(i int) {
	if len(f.Ranges) == 0 {
		f.PollRoundIndex = 0
		return
	}
	f.PollRoundIndex = (i + 1) % len(f.Ranges)
}

// ClearInFlight drops the in-flight marker without touching the range.
func (f *Form) ClearInFlight() {
	f.InFlightIndex = NoInFlight
}

// HasSlaveFor reports whether the form hosts a Slave-role range of the
// same station and kind overlapping the span. Used for loopback avoidance:
// polling such a span would have this process answer itself.
func (f *Form) HasSlaveFor(station uint8, kind Kind, addr, qty uint16) bool {
	for _, r := range f.Ranges {
		if r.Role != Slave {
			continue
		}
		if r.Station != station || r.Kind != kind {
			continue
		}
		if r.Overlaps(addr, qty) {
			return true
		}
	}
	return false
}

// MatchResponse finds the range whose pending request matches the reply
// geometry and settles it: values are stored, the pending request and the
// in-flight marker are cleared. Returns false when nothing matched.
func (f *Form) MatchResponse(station uint8, fc uint8, addr uint16, values []uint16) bool {
	for i, r := range f.Ranges {
		if r.Pending == nil || r.Station != station {
			continue
		}
		if r.Pending.Function != fc || r.Pending.Address != addr {
			continue
		}
		r.Store(addr, values)
		r.Pending = nil
		r.Responses++
		if f.InFlightIndex == i {
			f.ClearInFlight()
		}
		return true
	}
	return false
}
