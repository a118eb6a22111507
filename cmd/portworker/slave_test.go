// cmd/portworker/slave_test.go
package main

import (
	"errors"
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/celestia-island/aoba-sub003/internal/datasource"
	"github.com/celestia-island/aoba-sub003/internal/modbusrtu"
	"github.com/celestia-island/aoba-sub003/internal/registers"
)

func slaveOpts(address, length uint16) options {
	return options{
		role:    "slave-listen",
		port:    "/dev/ttyT0",
		baud:    9600,
		station: 1,
		kind:    registers.Holding,
		address: address,
		length:  length,
	}
}

// brokenProvider always fails, standing in for a dead data source.
type brokenProvider struct{}

func (brokenProvider) Values(int) ([]uint16, error) { return nil, errors.New("gone") }
func (brokenProvider) Close() error                 { return nil }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func exceptionCode(t *testing.T, frame []byte, qty uint16) uint8 {
	t.Helper()
	resp, err := modbusrtu.ParseReadResponse(frame, qty)
	if err != nil {
		t.Fatalf("reply did not parse: %v", err)
	}
	return resp.Exception
}

func TestReplyFor_HighAddressDoesNotWrap(t *testing.T) {
	// Address plus quantity overflows uint16 back into the geometry; the
	// window math must reject it instead of slicing out of range.
	opts := slaveOpts(0, 100)
	req := modbusrtu.Request{Station: 1, Function: 3, Address: 0xFFF0, Quantity: 0x20}

	frame := replyFor(opts, datasource.NewPushProvider(), req, quietLogger())
	if code := exceptionCode(t, frame, req.Quantity); code != 0x02 {
		t.Fatalf("exception = 0x%02x, want 0x02", code)
	}
}

func TestReplyFor_QuantityBounds(t *testing.T) {
	opts := slaveOpts(0, 200)
	for _, qty := range []uint16{0, modbusrtu.MaxReadQuantity + 1} {
		req := modbusrtu.Request{Station: 1, Function: 3, Address: 0, Quantity: qty}
		frame := replyFor(opts, datasource.NewPushProvider(), req, quietLogger())
		if code := exceptionCode(t, frame, qty); code != 0x02 {
			t.Fatalf("qty %d: exception = 0x%02x, want 0x02", qty, code)
		}
	}
}

func TestReplyFor_OutsideGeometry(t *testing.T) {
	opts := slaveOpts(100, 10)
	for _, req := range []modbusrtu.Request{
		{Station: 1, Function: 3, Address: 99, Quantity: 2},
		{Station: 1, Function: 3, Address: 109, Quantity: 2},
	} {
		frame := replyFor(opts, datasource.NewPushProvider(), req, quietLogger())
		if code := exceptionCode(t, frame, req.Quantity); code != 0x02 {
			t.Fatalf("addr %d qty %d: exception = 0x%02x, want 0x02", req.Address, req.Quantity, code)
		}
	}
}

func TestReplyFor_ServesWindow(t *testing.T) {
	opts := slaveOpts(100, 10)
	provider := datasource.NewPushProvider()
	provider.Push([]uint16{10, 11, 12, 13, 14, 15, 16, 17, 18, 19})

	req := modbusrtu.Request{Station: 1, Function: 3, Address: 102, Quantity: 3}
	frame := replyFor(opts, provider, req, quietLogger())

	resp, err := modbusrtu.ParseReadResponse(frame, req.Quantity)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Exception != 0 {
		t.Fatalf("exception = 0x%02x", resp.Exception)
	}
	if !reflect.DeepEqual(resp.Values, []uint16{12, 13, 14}) {
		t.Fatalf("values = %v", resp.Values)
	}
}

func TestReplyFor_ProviderFailure(t *testing.T) {
	opts := slaveOpts(0, 10)
	req := modbusrtu.Request{Station: 1, Function: 3, Address: 0, Quantity: 4}

	frame := replyFor(opts, brokenProvider{}, req, quietLogger())
	if code := exceptionCode(t, frame, req.Quantity); code != 0x04 {
		t.Fatalf("exception = 0x%02x, want 0x04", code)
	}
}
