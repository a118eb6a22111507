// internal/runtime/ipc.go
package runtime

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/modbusrtu"
	"github.com/celestia-island/aoba-sub003/internal/ports"
	"github.com/celestia-island/aoba-sub003/internal/registers"
	"github.com/celestia-island/aoba-sub003/internal/worker"
)

// drainIPC empties every active worker's message queue and routes each
// message. Bus traffic goes through the port's transport channel so the
// per-port pump is the single path into the register model.
func (l *Loop) drainIPC() {
	for _, pm := range l.mgr.PollMessages() {
		l.routeMessage(pm.Port, pm.Message)
	}
}

func (l *Loop) routeMessage(port string, msg ipc.Message) {
	switch msg.Type {
	case ipc.TModbusData:
		if msg.Direction == ipc.DirRecv {
			l.pushEvent(port, ports.Event{Kind: ports.EventData, Data: msg.Raw})
			return
		}
		// Worker-side trace of a frame it placed on the bus.
		_ = l.reg.With(port, func(p *ports.Port) error {
			level := "info"
			if !msg.Success {
				level = "warn"
			}
			p.Log.Append(level, "worker tx "+modbusrtu.HexDump(msg.Raw))
			return nil
		})

	case ipc.TPortOpened:
		l.pushEvent(port, ports.Event{Kind: ports.EventOpened})

	case ipc.TPortError:
		// Worker failure: back to Free plus a visible banner; the front
		// end keeps running. A busy device is marked foreign-occupied
		// until the next scan re-probes it.
		l.banner(port, "port error: "+msg.Text)
		l.stopWorker(port)
		if isBusyError(msg.Text) {
			_ = l.reg.With(port, func(p *ports.Port) error {
				p.State = ports.OccupiedByOther
				return nil
			})
		}

	case ipc.TShutdown:
		l.pushEvent(port, ports.Event{Kind: ports.EventStopped})

	case ipc.TStationsUpdate:
		l.applyStationsUpdate(port, msg)

	case ipc.TStateLockRequest:
		if msg.Locked {
			l.lockedBy = msg.Requester
		} else if l.lockedBy == msg.Requester {
			l.lockedBy = ""
		}
		ack := ipc.Message{
			Type:      ipc.TStateLockAck,
			Port:      port,
			Requester: msg.Requester,
			Locked:    msg.Locked,
		}
		if err := l.mgr.Send(port, ack); err != nil {
			l.logger.Printf("runtime: %s: lock ack failed: %v", port, err)
		}

	case ipc.TStatus:
		_ = l.reg.With(port, func(p *ports.Port) error {
			p.Log.Append("info", msg.Text)
			return nil
		})

	case ipc.TLog:
		_ = l.reg.With(port, func(p *ports.Port) error {
			p.Log.Append(msg.Level, msg.Text)
			return nil
		})

	case ipc.THeartbeat:
		// Tracked by the manager.
	}
}

// isBusyError classifies an open failure as another process holding the
// device, as opposed to the device being broken or gone.
func isBusyError(text string) bool {
	t := strings.ToLower(text)
	for _, marker := range []string{"busy", "in use", "permission denied", "access is denied"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// applyStationsUpdate merges values a worker pushed for a range it owns
// (the master-provide role polls the bus itself and reports this way).
func (l *Loop) applyStationsUpdate(port string, msg ipc.Message) {
	var values []uint16
	if err := json.Unmarshal(msg.Stations, &values); err != nil {
		return
	}
	kind, err := registers.ParseKind(msg.Kind)
	if err != nil {
		return
	}
	_ = l.reg.With(port, func(p *ports.Port) error {
		for _, r := range p.Form.Ranges {
			if r.Station == msg.Station && r.Kind == kind && r.Overlaps(msg.Address, uint16(len(values))) {
				r.Store(msg.Address, values)
			}
		}
		p.Log.Append("info", "values pushed from worker")
		return nil
	})
}

func (l *Loop) pushEvent(port string, ev ports.Event) {
	_ = l.reg.With(port, func(p *ports.Port) error {
		if p.Channel != nil {
			p.Channel.Push(ev)
		}
		return nil
	})
}

// portPump is the per-port goroutine that carries frames between the
// transport channel and the worker, and merges arriving bus traffic into
// the register model. All IPC I/O happens here, outside the registry
// lock; results are merged back under a short write acquisition.
func (l *Loop) portPump(port string, ch *ports.Channel, stop <-chan struct{}) {
	defer l.pumpWG.Done()
	for {
		select {
		case <-stop:
			return

		case frame := <-ch.Commands:
			msg := ipc.Message{
				Type:      ipc.TModbusData,
				Port:      port,
				Direction: ipc.DirSend,
				Raw:       frame,
			}
			if err := l.mgr.Send(port, msg); err != nil {
				_ = l.reg.With(port, func(p *ports.Port) error {
					p.Log.Append("warn", "frame forward failed: "+err.Error())
					return nil
				})
			}

		case ev := <-ch.Events:
			l.applyEvent(port, ev)
		}
	}
}

func (l *Loop) applyEvent(port string, ev ports.Event) {
	switch ev.Kind {
	case ports.EventData:
		l.applyResponse(port, ev.Data)
	case ports.EventOpened:
		_ = l.reg.With(port, func(p *ports.Port) error {
			p.Log.Append("info", "port opened")
			return nil
		})
	case ports.EventStopped:
		_ = l.reg.With(port, func(p *ports.Port) error {
			p.Log.Append("info", "worker stopping")
			return nil
		})
	case ports.EventError:
		l.banner(port, ev.Err)
	}
}

// applyResponse matches a raw reply frame against the port's pending
// request and settles the range.
func (l *Loop) applyResponse(port string, raw []byte) {
	if len(raw) < 4 {
		return
	}
	station := raw[0]
	fc := raw[1] &^ 0x80

	_ = l.reg.With(port, func(p *ports.Port) error {
		var pending *registers.PendingRequest
		for _, r := range p.Form.Ranges {
			if r.Pending != nil && r.Station == station && r.Pending.Function == fc {
				pending = r.Pending
				break
			}
		}
		if pending == nil {
			p.Log.Append("warn", "unmatched frame: "+modbusrtu.HexDump(raw))
			return nil
		}

		resp, err := modbusrtu.ParseReadResponse(raw, pending.Quantity)
		if err != nil {
			p.Log.Append("warn", "bad frame: "+err.Error())
			return nil
		}
		if resp.Exception != 0 {
			// Exception settles the request; the range stays eligible.
			for i, r := range p.Form.Ranges {
				if r.Pending == pending {
					r.Pending = nil
					if p.Form.InFlightIndex == i {
						p.Form.ClearInFlight()
					}
					break
				}
			}
			p.Log.Append("error", "modbus exception: "+modbusrtu.HexDump(raw))
			return nil
		}

		if p.Form.MatchResponse(station, fc, pending.Address, resp.Values) {
			p.Log.Append("info", "rx "+modbusrtu.HexDump(raw))
		}
		return nil
	})
}

// updateRegister applies a UI edit to a slave range and forwards the new
// values to the worker serving them.
func (l *Loop) updateRegister(cmd Command) {
	kind, err := registers.ParseKind(cmd.RegKind)
	if err != nil {
		l.banner(cmd.Port, "register update: "+err.Error())
		return
	}

	updated := false
	_ = l.reg.With(cmd.Port, func(p *ports.Port) error {
		for _, r := range p.Form.Ranges {
			if r.Station == cmd.Station && r.Kind == kind && r.Overlaps(cmd.Address, uint16(len(cmd.Values))) {
				r.Store(cmd.Address, cmd.Values)
				updated = true
			}
		}
		return nil
	})
	if !updated {
		return
	}

	payload, err := json.Marshal(cmd.Values)
	if err != nil {
		return
	}
	msg := ipc.Message{
		Type:     ipc.TStationsUpdate,
		Port:     cmd.Port,
		Station:  cmd.Station,
		Kind:     cmd.RegKind,
		Address:  cmd.Address,
		Stations: payload,
	}
	if err := l.mgr.Send(cmd.Port, msg); err != nil && !errors.Is(err, worker.ErrNoWorker) {
		l.logger.Printf("runtime: %s: stations update failed: %v", cmd.Port, err)
	}
}
