// internal/ports/port.go
package ports

import (
	"errors"

	"github.com/celestia-island/aoba-sub003/internal/registers"
)

// State is the occupancy of a serial device as seen by this runtime.
type State uint8

const (
	Free State = iota
	OccupiedByThis
	OccupiedByOther
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case OccupiedByThis:
		return "occupied_by_this"
	case OccupiedByOther:
		return "occupied_by_other"
	default:
		return "unknown"
	}
}

var (
	// ErrOccupied rejects a second occupant for a port.
	ErrOccupied = errors.New("ports: port already occupied")
	// ErrUnknownPort names a port the registry does not know.
	ErrUnknownPort = errors.New("ports: unknown port")
)

// Port is one physical or virtual serial device known to the runtime.
// Created on device scan, removed when the OS stops enumerating it.
type Port struct {
	Name  string
	State State

	// Form holds the register ranges and polling parameters. One form
	// per port.
	Form *registers.Form

	// Channel is non-nil only while this runtime occupies the port.
	Channel *Channel

	// WorkerPID mirrors the managed worker process, 0 when none.
	WorkerPID int

	// WorkerRole is the running worker's role string, empty when none.
	// The scheduler consults it: a master-provide worker drives the bus
	// itself, so no frames are dispatched for the port.
	WorkerRole string

	Log *LogRing
}

// Occupy transitions the port to OccupiedByThis and attaches a fresh
// transport channel. Fails on any occupied state.
func (p *Port) Occupy() error {
	if p.State != Free {
		return ErrOccupied
	}
	p.State = OccupiedByThis
	p.Channel = NewChannel()
	return nil
}

// Release returns the port to Free and drops the channel.
func (p *Port) Release() {
	p.State = Free
	p.Channel = nil
	p.WorkerPID = 0
	p.WorkerRole = ""
}
