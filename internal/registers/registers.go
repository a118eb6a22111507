// internal/registers/registers.go
package registers

import (
	"errors"
	"time"
)

// Kind identifies one of the four Modbus register tables.
type Kind uint8

const (
	Coils Kind = iota + 1
	DiscreteInputs
	Holding
	Input
)

// FunctionCode maps a register kind to its read function code.
func (k Kind) FunctionCode() (uint8, error) {
	switch k {
	case Coils:
		return 1, nil
	case DiscreteInputs:
		return 2, nil
	case Holding:
		return 3, nil
	case Input:
		return 4, nil
	default:
		return 0, ErrUnsupportedKind
	}
}

func (k Kind) String() string {
	switch k {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case Holding:
		return "holding"
	case Input:
		return "input"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used in configuration and on the worker
// command line.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "coils":
		return Coils, nil
	case "discrete_inputs":
		return DiscreteInputs, nil
	case "holding":
		return Holding, nil
	case "input":
		return Input, nil
	default:
		return 0, ErrUnsupportedKind
	}
}

// Role selects whether a range is actively polled or only responds.
type Role uint8

const (
	Master Role = iota + 1
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Slave:
		return "slave"
	default:
		return "unknown"
	}
}

var (
	ErrUnsupportedKind = errors.New("registers: unsupported register kind")
	ErrZeroLength      = errors.New("registers: zero-length range")
)

// PendingRequest is the single outstanding protocol request for a range.
// At most one exists per range at a time.
type PendingRequest struct {
	Function uint8
	Address  uint16
	Quantity uint16
	SentAt   time.Time
	Frame    []byte
}

// Range is one contiguous block of registers of one kind at one station,
// tracked as a single polling unit. Never shared across ports.
type Range struct {
	Station uint8
	Kind    Kind
	Address uint16
	Length  uint16
	Role    Role

	Values []uint16

	// Pending is nil when no request is outstanding.
	Pending *PendingRequest

	NextPollAt time.Time

	// PollRounds counts dispatch attempts, including attempts suppressed
	// by loopback avoidance.
	PollRounds uint64
	Responses  uint64
	Timeouts   uint64
}

// End returns the address one past the last register of the range.
func (r *Range) End() uint16 {
	return r.Address + r.Length
}

// Overlaps reports whether the span [addr, addr+qty) touches this range.
func (r *Range) Overlaps(addr, qty uint16) bool {
	return addr < r.End() && r.Address < addr+qty
}

// Store merges response values into the range at the given start address.
// Values outside the range geometry are dropped.
func (r *Range) Store(addr uint16, values []uint16) {
	if r.Values == nil {
		r.Values = make([]uint16, r.Length)
	}
	for i, v := range values {
		off := int(addr) + i - int(r.Address)
		if off < 0 || off >= len(r.Values) {
			continue
		}
		r.Values[off] = v
	}
}
