// internal/modbusrtu/frame.go
package modbusrtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// MaxReadQuantity is the wire-protocol cap on registers per read request.
const MaxReadQuantity = 125

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

var (
	ErrShortFrame  = errors.New("modbusrtu: frame too short")
	ErrCRCMismatch = errors.New("modbusrtu: crc mismatch")
)

// appendCRC appends the RTU CRC, low byte first.
func appendCRC(frame []byte) []byte {
	crc := crc16.Checksum(frame, crcTable)
	return append(frame, byte(crc), byte(crc>>8))
}

// verifyCRC checks the trailing CRC and returns the frame body without it.
func verifyCRC(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, ErrShortFrame
	}
	body := frame[:len(frame)-2]
	want := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	if crc16.Checksum(body, crcTable) != want {
		return nil, ErrCRCMismatch
	}
	return body, nil
}

// BuildReadRequest builds an RTU read ADU for function codes 1–4.
//
// ADU: Station(1) FC(1) Address(2) Quantity(2) CRC(2, low first)
func BuildReadRequest(station uint8, fc uint8, addr, qty uint16) ([]byte, error) {
	if fc < 1 || fc > 4 {
		return nil, fmt.Errorf("modbusrtu: function %d is not a read", fc)
	}
	if qty == 0 || qty > MaxReadQuantity {
		return nil, fmt.Errorf("modbusrtu: quantity %d out of range", qty)
	}
	pdu := make([]byte, 6, 8)
	pdu[0] = station
	pdu[1] = fc
	binary.BigEndian.PutUint16(pdu[2:4], addr)
	binary.BigEndian.PutUint16(pdu[4:6], qty)
	return appendCRC(pdu), nil
}

// Request is a decoded read request.
type Request struct {
	Station  uint8
	Function uint8
	Address  uint16
	Quantity uint16
}

// ParseReadRequest decodes and CRC-checks a read request frame.
func ParseReadRequest(frame []byte) (Request, error) {
	body, err := verifyCRC(frame)
	if err != nil {
		return Request{}, err
	}
	if len(body) != 6 {
		return Request{}, ErrShortFrame
	}
	req := Request{
		Station:  body[0],
		Function: body[1],
		Address:  binary.BigEndian.Uint16(body[2:4]),
		Quantity: binary.BigEndian.Uint16(body[4:6]),
	}
	if req.Function < 1 || req.Function > 4 {
		return Request{}, fmt.Errorf("modbusrtu: function %d is not a read", req.Function)
	}
	return req, nil
}

// BuildReadResponse builds the reply to a read request from register
// values. Bit kinds (FC 1/2) pack one value per bit, non-zero meaning set.
func BuildReadResponse(station uint8, fc uint8, values []uint16) ([]byte, error) {
	switch fc {
	case 1, 2:
		byteCount := (len(values) + 7) / 8
		frame := make([]byte, 3+byteCount, 5+byteCount)
		frame[0] = station
		frame[1] = fc
		frame[2] = byte(byteCount)
		for i, v := range values {
			if v != 0 {
				frame[3+i/8] |= 1 << (i % 8)
			}
		}
		return appendCRC(frame), nil
	case 3, 4:
		frame := make([]byte, 3+2*len(values), 5+2*len(values))
		frame[0] = station
		frame[1] = fc
		frame[2] = byte(2 * len(values))
		for i, v := range values {
			binary.BigEndian.PutUint16(frame[3+2*i:5+2*i], v)
		}
		return appendCRC(frame), nil
	default:
		return nil, fmt.Errorf("modbusrtu: function %d is not a read", fc)
	}
}

// BuildException builds an exception reply for a request.
func BuildException(station uint8, fc uint8, code uint8) []byte {
	return appendCRC([]byte{station, fc | 0x80, code})
}

// Response is a decoded read reply. For bit kinds the values are 0 or 1,
// one per requested point.
type Response struct {
	Station   uint8
	Function  uint8
	Values    []uint16
	Exception uint8 // 0 when the reply is not an exception
}

// ParseReadResponse decodes and CRC-checks a read reply. The quantity of
// the originating request is needed to trim the bit padding of FC 1/2.
func ParseReadResponse(frame []byte, qty uint16) (Response, error) {
	body, err := verifyCRC(frame)
	if err != nil {
		return Response{}, err
	}
	if len(body) < 2 {
		return Response{}, ErrShortFrame
	}
	resp := Response{Station: body[0], Function: body[1] &^ 0x80}
	if body[1]&0x80 != 0 {
		if len(body) < 3 {
			return Response{}, ErrShortFrame
		}
		resp.Exception = body[2]
		return resp, nil
	}
	if len(body) < 3 {
		return Response{}, ErrShortFrame
	}
	byteCount := int(body[2])
	data := body[3:]
	if len(data) < byteCount {
		return Response{}, fmt.Errorf("modbusrtu: payload shorter than byte count: %d < %d", len(data), byteCount)
	}
	data = data[:byteCount]

	switch resp.Function {
	case 1, 2:
		n := int(qty)
		if n > 8*byteCount {
			n = 8 * byteCount
		}
		resp.Values = make([]uint16, n)
		for i := 0; i < n; i++ {
			if data[i/8]&(1<<(i%8)) != 0 {
				resp.Values[i] = 1
			}
		}
	case 3, 4:
		if byteCount%2 != 0 {
			return Response{}, errors.New("modbusrtu: read-registers byte count not even")
		}
		resp.Values = make([]uint16, byteCount/2)
		for i := range resp.Values {
			resp.Values[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
		}
	default:
		return Response{}, fmt.Errorf("modbusrtu: function %d is not a read", resp.Function)
	}
	return resp, nil
}

// HexDump renders a frame the way the port log shows it.
func HexDump(frame []byte) string {
	var b strings.Builder
	for i, c := range frame {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// Summary renders a one-line parsed view of a read request.
func Summary(req Request) string {
	return fmt.Sprintf("station=%d fc=%d addr=%d qty=%d",
		req.Station, req.Function, req.Address, req.Quantity)
}
