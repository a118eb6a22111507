// internal/ports/channel.go
package ports

import "errors"

// EventKind classifies transport channel events.
type EventKind uint8

const (
	EventData EventKind = iota + 1
	EventOpened
	EventStopped
	EventError
)

// Event is raw bytes or a lifecycle notice arriving from the device side.
type Event struct {
	Kind EventKind
	Data []byte
	Err  string
}

// ErrChannelFull signals back-pressure on the outbound queue. The caller
// leaves the range eligible for a later tick instead of blocking.
var ErrChannelFull = errors.New("ports: transport channel full")

const channelDepth = 64

// Channel is the pair of one-directional queues connecting the runtime
// to whatever owns the real serial handle for a port.
type Channel struct {
	// Commands carries raw request frames toward the device.
	Commands chan []byte
	// Events carries raw frames and lifecycle notices back.
	Events chan Event
}

func NewChannel() *Channel {
	return &Channel{
		Commands: make(chan []byte, channelDepth),
		Events:   make(chan Event, channelDepth),
	}
}

// TrySend queues a frame without blocking.
func (c *Channel) TrySend(frame []byte) error {
	select {
	case c.Commands <- frame:
		return nil
	default:
		return ErrChannelFull
	}
}

// TryRecv drains one event without blocking.
func (c *Channel) TryRecv() (Event, bool) {
	select {
	case ev := <-c.Events:
		return ev, true
	default:
		return Event{}, false
	}
}

// Push queues an event without blocking; oldest events are dropped under
// pressure so the device side never stalls.
func (c *Channel) Push(ev Event) {
	for {
		select {
		case c.Events <- ev:
			return
		default:
		}
		select {
		case <-c.Events:
		default:
		}
	}
}
