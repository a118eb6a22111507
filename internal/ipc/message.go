// internal/ipc/message.go
package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Type tags an IPC message variant.
type Type uint8

const (
	TPortOpened Type = iota + 1
	TPortError
	TShutdown
	TModbusData
	THeartbeat
	TStationsUpdate
	TStateLockRequest
	TStateLockAck
	TStatus
	TLog

	// Automation side-channel variants. These travel on the JSON-line
	// codec only; the binary path never carries them.
	TKeyPress
	TCharInput
	TRequestScreen
	TScreenContent
	TReady
	TError
)

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

var typeNames = map[Type]string{
	TPortOpened:       "PortOpened",
	TPortError:        "PortError",
	TShutdown:         "Shutdown",
	TModbusData:       "ModbusData",
	THeartbeat:        "Heartbeat",
	TStationsUpdate:   "StationsUpdate",
	TStateLockRequest: "StateLockRequest",
	TStateLockAck:     "StateLockAck",
	TStatus:           "Status",
	TLog:              "Log",
	TKeyPress:         "KeyPress",
	TCharInput:        "CharInput",
	TRequestScreen:    "RequestScreen",
	TScreenContent:    "ScreenContent",
	TReady:            "Ready",
	TError:            "Error",
}

// Direction of a ModbusData exchange as seen by the worker.
const (
	DirSend = "send"
	DirRecv = "recv"
)

// Message is the tagged union carried by the transport. Every variant
// carries the originating port; unused fields stay zero.
type Message struct {
	Type Type   `msgpack:"t" json:"-"`
	Port string `msgpack:"port,omitempty" json:"port,omitempty"`

	// PortError / Log / Error
	Text string `msgpack:"text,omitempty" json:"text,omitempty"`

	// Log
	Level string `msgpack:"level,omitempty" json:"level,omitempty"`

	// Status
	Details string `msgpack:"details,omitempty" json:"details,omitempty"`

	// ModbusData
	Direction   string `msgpack:"dir,omitempty" json:"dir,omitempty"`
	Raw         []byte `msgpack:"raw,omitempty" json:"raw,omitempty"`
	Station     uint8  `msgpack:"station,omitempty" json:"station,omitempty"`
	Kind        string `msgpack:"kind,omitempty" json:"kind,omitempty"`
	Address     uint16 `msgpack:"addr,omitempty" json:"addr,omitempty"`
	Quantity    uint16 `msgpack:"qty,omitempty" json:"qty,omitempty"`
	Success     bool   `msgpack:"ok,omitempty" json:"ok,omitempty"`
	ConfigIndex int    `msgpack:"cfg,omitempty" json:"cfg,omitempty"`

	// StationsUpdate: serialized station list, opaque to the transport.
	Stations []byte `msgpack:"stations,omitempty" json:"stations,omitempty"`

	// StateLockRequest / StateLockAck
	Requester string `msgpack:"requester,omitempty" json:"requester,omitempty"`
	Locked    bool   `msgpack:"locked,omitempty" json:"locked,omitempty"`

	// KeyPress / CharInput
	Key  string `msgpack:"key,omitempty" json:"key,omitempty"`
	Char string `msgpack:"char,omitempty" json:"char,omitempty"`

	// ScreenContent
	Content string `msgpack:"content,omitempty" json:"content,omitempty"`
}

// encodeBinary serializes a message with the compact production codec.
func encodeBinary(m Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

// decodeBinary deserializes a production message body.
func decodeBinary(body []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("ipc: decode: %w", err)
	}
	if m.Type == 0 {
		return Message{}, fmt.Errorf("ipc: decode: missing type tag")
	}
	return m, nil
}
