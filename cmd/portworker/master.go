// cmd/portworker/master.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/goburrow/modbus"

	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/registers"
)

const masterPollEvery = time.Second

// runMaster owns the bus as an RTU master: it polls the configured range
// itself and pushes results to the front end as StationsUpdate values
// plus a ModbusData trace of each exchange.
func runMaster(ctx context.Context, opts options, tr *ipc.Transport, cmds <-chan ipc.Message, logger *log.Logger) error {
	handler := modbus.NewRTUClientHandler(opts.port)
	handler.BaudRate = opts.baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = opts.station
	handler.Timeout = time.Second

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("open %s: %w", opts.port, err)
	}
	defer handler.Close()

	client := modbus.NewClient(handler)

	_ = tr.Send(ipc.Message{Type: ipc.TPortOpened, Port: opts.port})

	ticker := time.NewTicker(masterPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-cmds:
			// The front end does not drive the bus in this role; only
			// value pushes are meaningful.
			if msg.Type == ipc.TStationsUpdate {
				logger.Printf("ignoring stations update in master role")
			}

		case <-ticker.C:
			values, err := readOnce(client, opts)
			trace := ipc.Message{
				Type:      ipc.TModbusData,
				Port:      opts.port,
				Direction: ipc.DirSend,
				Station:   opts.station,
				Kind:      opts.kind.String(),
				Address:   opts.address,
				Quantity:  opts.length,
				Success:   err == nil,
			}
			if err != nil {
				trace.Text = err.Error()
				_ = tr.Send(trace)
				continue
			}
			payload, merr := json.Marshal(values)
			if merr == nil {
				_ = tr.Send(ipc.Message{
					Type:     ipc.TStationsUpdate,
					Port:     opts.port,
					Station:  opts.station,
					Kind:     opts.kind.String(),
					Address:  opts.address,
					Stations: payload,
				})
			}
			_ = tr.Send(trace)
		}
	}
}

// readOnce performs one read of the configured geometry and unpacks the
// result into register values.
func readOnce(client modbus.Client, opts options) ([]uint16, error) {
	switch opts.kind {
	case registers.Coils, registers.DiscreteInputs:
		var raw []byte
		var err error
		if opts.kind == registers.Coils {
			raw, err = client.ReadCoils(opts.address, opts.length)
		} else {
			raw, err = client.ReadDiscreteInputs(opts.address, opts.length)
		}
		if err != nil {
			return nil, err
		}
		values := make([]uint16, opts.length)
		for i := range values {
			if i/8 < len(raw) && raw[i/8]&(1<<(i%8)) != 0 {
				values[i] = 1
			}
		}
		return values, nil

	case registers.Holding, registers.Input:
		var raw []byte
		var err error
		if opts.kind == registers.Holding {
			raw, err = client.ReadHoldingRegisters(opts.address, opts.length)
		} else {
			raw, err = client.ReadInputRegisters(opts.address, opts.length)
		}
		if err != nil {
			return nil, err
		}
		values := make([]uint16, len(raw)/2)
		for i := range values {
			values[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
		}
		return values, nil

	default:
		return nil, registers.ErrUnsupportedKind
	}
}
