// cmd/portworker/slave.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	gobug "go.bug.st/serial"

	"github.com/celestia-island/aoba-sub003/internal/datasource"
	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/modbusrtu"
)

// runSlave owns the raw serial handle. In slave-listen it answers read
// requests addressed to its station from the data source; in slave-poll
// it is a pure pass-through and the front end's scheduler drives the
// bus. Either way every frame crossing the port is forwarded.
func runSlave(ctx context.Context, opts options, tr *ipc.Transport, cmds <-chan ipc.Message, logger *log.Logger) error {
	mode := &gobug.Mode{
		BaudRate: opts.baud,
		DataBits: 8,
		Parity:   gobug.NoParity,
		StopBits: gobug.OneStopBit,
	}
	port, err := gobug.Open(opts.port, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.port, err)
	}
	defer port.Close()
	_ = port.SetReadTimeout(20 * time.Millisecond)

	var provider datasource.Provider
	push := datasource.NewPushProvider()
	if opts.source != nil {
		provider, err = datasource.Open(*opts.source)
		if err != nil {
			return err
		}
		defer provider.Close()
		if pp, ok := provider.(*datasource.PushProvider); ok {
			push = pp
		}
	} else {
		provider = push
	}

	_ = tr.Send(ipc.Message{Type: ipc.TPortOpened, Port: opts.port})

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go readFrames(ctx, port, frames, readErr)

	answer := opts.role == "slave-listen"

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("read %s: %w", opts.port, err)

		case msg := <-cmds:
			switch msg.Type {
			case ipc.TModbusData:
				if msg.Direction != ipc.DirSend || len(msg.Raw) == 0 {
					continue
				}
				if _, err := port.Write(msg.Raw); err != nil {
					return fmt.Errorf("write %s: %w", opts.port, err)
				}
			case ipc.TStationsUpdate:
				var values []uint16
				if err := json.Unmarshal(msg.Stations, &values); err == nil {
					push.Push(values)
				}
			}

		case frame := <-frames:
			if answer {
				if handled := serveRequest(opts, port, tr, provider, frame, logger); handled {
					continue
				}
			}
			_ = tr.Send(ipc.Message{
				Type:      ipc.TModbusData,
				Port:      opts.port,
				Direction: ipc.DirRecv,
				Raw:       frame,
				Success:   true,
			})
		}
	}
}

// serveRequest answers a read request addressed to our simulated station.
// Returns false when the frame is someone else's traffic.
func serveRequest(opts options, port gobug.Port, tr *ipc.Transport, provider datasource.Provider, frame []byte, logger *log.Logger) bool {
	req, err := modbusrtu.ParseReadRequest(frame)
	if err != nil || req.Station != opts.station {
		return false
	}
	fc, _ := opts.kind.FunctionCode()
	if req.Function != fc {
		return false
	}

	trace := ipc.Message{
		Type:      ipc.TModbusData,
		Port:      opts.port,
		Direction: ipc.DirSend,
		Station:   req.Station,
		Kind:      opts.kind.String(),
		Address:   req.Address,
		Quantity:  req.Quantity,
	}

	resp := replyFor(opts, provider, req, logger)
	if _, err := port.Write(resp); err != nil {
		logger.Printf("response write failed: %v", err)
		return true
	}
	trace.Raw = resp
	trace.Success = resp[1]&0x80 == 0
	_ = tr.Send(trace)
	return true
}

// replyFor builds the wire reply for a request aimed at our station:
// register values on success, an exception frame otherwise. Window
// arithmetic happens in int so a request near the top of the 16-bit
// address space cannot wrap back inside the geometry.
func replyFor(opts options, provider datasource.Provider, req modbusrtu.Request, logger *log.Logger) []byte {
	lo := int(req.Address) - int(opts.address)
	hi := lo + int(req.Quantity)
	if req.Quantity == 0 || req.Quantity > modbusrtu.MaxReadQuantity || lo < 0 || hi > int(opts.length) {
		return modbusrtu.BuildException(req.Station, req.Function, 0x02)
	}

	all, err := provider.Values(int(opts.length))
	if err != nil {
		logger.Printf("data source failed: %v", err)
		return modbusrtu.BuildException(req.Station, req.Function, 0x04)
	}

	resp, err := modbusrtu.BuildReadResponse(req.Station, req.Function, all[lo:hi])
	if err != nil {
		logger.Printf("response build failed: %v", err)
		return modbusrtu.BuildException(req.Station, req.Function, 0x04)
	}
	return resp
}

// readFrames accumulates bytes into frames split on the RTU inter-frame
// idle gap. The port read timeout doubles as the gap detector.
func readFrames(ctx context.Context, port gobug.Port, frames chan<- []byte, readErr chan<- error) {
	buf := make([]byte, 256)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := port.Read(buf)
		if err != nil {
			readErr <- err
			return
		}
		if n == 0 {
			// Idle gap: whatever accumulated is one frame.
			if len(pending) > 0 {
				frames <- append([]byte(nil), pending...)
				pending = pending[:0]
			}
			continue
		}
		pending = append(pending, buf[:n]...)
		if len(pending) > 512 {
			// Garbage burst; resync on the next gap.
			pending = pending[:0]
		}
	}
}
