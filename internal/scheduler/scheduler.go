// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/modbusrtu"
	"github.com/celestia-island/aoba-sub003/internal/registers"
)

// retryDelay reschedules a range after a dispatch or a timeout.
const retryDelay = 1000 * time.Millisecond

// Sender is the outbound half of a port's transport channel.
type Sender interface {
	TrySend(frame []byte) error
}

// TickPort advances at most one register range of one port toward
// completion. Logs are deferred into buf; the caller decides whether they
// land in the global log or the port's ring.
func TickPort(now time.Time, portName string, form *registers.Form, ch Sender, buf *Buffer) {
	if form == nil || !form.PollingEnabled || !form.Active {
		return
	}

	// ------------------------------------------------------------
	// IN-FLIGHT CHECK
	// ------------------------------------------------------------

	if idx := form.InFlightIndex; idx != registers.NoInFlight {
		r := form.InFlight()
		if r == nil {
			// Stale index after a range edit.
			form.ClearInFlight()
		} else if r.Pending == nil {
			// Already satisfied by a response; nothing to log.
			form.ClearInFlight()
		} else if now.Sub(r.Pending.SentAt) > form.Timeout {
			buf.Add(portName, "warn", fmt.Sprintf(
				"request timeout: station=%d fc=%d addr=%d qty=%d after %s",
				r.Station, r.Pending.Function, r.Pending.Address,
				r.Pending.Quantity, form.Timeout))
			r.Pending = nil
			r.Timeouts++
			r.NextPollAt = now.Add(retryDelay)
			form.AdvanceCursor(idx)
			form.ClearInFlight()
			// The timeout was this tick's advance for the port.
			return
		} else {
			// Still waiting; one outstanding request per port.
			return
		}
	}

	// ------------------------------------------------------------
	// CANDIDATE SCAN (round robin, one full cycle at most)
	// ------------------------------------------------------------

	total := len(form.Ranges)
	if total == 0 {
		return
	}

	for step := 0; step < total; step++ {
		idx := (form.PollRoundIndex + step) % total
		r := form.Ranges[idx]

		if r.Role != registers.Master || r.Pending != nil {
			continue
		}
		if r.NextPollAt.After(now) {
			continue
		}
		fc, err := r.Kind.FunctionCode()
		if err != nil || r.Length == 0 {
			continue
		}

		qty := r.Length
		if qty > modbusrtu.MaxReadQuantity {
			qty = modbusrtu.MaxReadQuantity
		}

		// Loopback avoidance: this process also simulates the slave that
		// would answer. Count the attempt and reschedule, but keep the
		// frame off the wire.
		if form.HasSlaveFor(r.Station, r.Kind, r.Address, qty) {
			r.PollRounds++
			r.NextPollAt = now.Add(retryDelay)
			form.AdvanceCursor(idx)
			return
		}

		frame, err := modbusrtu.BuildReadRequest(r.Station, fc, r.Address, qty)
		if err != nil {
			continue
		}
		if ch == nil || ch.TrySend(frame) != nil {
			// Send failed; the range stays a future candidate.
			continue
		}

		buf.Add(portName, "info", fmt.Sprintf("tx %s (%s)",
			modbusrtu.HexDump(frame),
			modbusrtu.Summary(modbusrtu.Request{
				Station: r.Station, Function: fc, Address: r.Address, Quantity: qty,
			})))

		r.Pending = &registers.PendingRequest{
			Function: fc,
			Address:  r.Address,
			Quantity: qty,
			SentAt:   now,
			Frame:    frame,
		}
		r.PollRounds++
		r.NextPollAt = now.Add(retryDelay)
		form.InFlightIndex = idx
		form.AdvanceCursor(idx)
		// One outstanding request per port per tick.
		return
	}
}
