package bgapi

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	headerLen     = 4
	maxPayloadLen = 0x7FF

	flagEvent = 0x80
	maskTech  = 0x78 // technology type, must be 0 (Bluetooth Smart)
	maskLenHi = 0x07
)

// ID identifies a packet by message type, class and command.
type ID struct {
	Event   bool
	Class   Class
	Command uint8
}

func (id ID) String() string {
	kind := "rsp"
	if id.Event {
		kind = "evt"
	}
	if d, ok := records[id]; ok {
		return kind + " " + id.Class.String() + "." + d.name
	}
	return fmt.Sprintf("%s %s.%d", kind, id.Class, id.Command)
}

// Packet is one framed BGAPI command, response or event.
type Packet struct {
	ID
	Payload []byte
}

// Marshal encodes p with its 4-byte header.
func (p Packet) Marshal() []byte {
	n := len(p.Payload)
	b := make([]byte, headerLen+n)
	b[0] = byte(n>>8) & maskLenHi
	if p.Event {
		b[0] |= flagEvent
	}
	b[1] = byte(n)
	b[2] = byte(p.Class)
	b[3] = p.Command
	copy(b[headerLen:], p.Payload)
	return b
}

type order struct{ binary.ByteOrder }

var o = order{binary.LittleEndian}

func (o order) PutUint8(b []byte, v uint8) { b[0] = v }

// Addr is a Bluetooth device address in wire (little-endian) order.
type Addr [6]byte

// String returns the address most significant byte first, as printed on devices.
func (a Addr) String() string {
	s := make([]string, len(a))
	for i := range a {
		s[len(a)-1-i] = fmt.Sprintf("%02X", a[i])
	}
	return strings.Join(s, ":")
}

// ScanParams configures the GAP scan procedure.
type ScanParams struct {
	Active   bool
	Interval time.Duration
	Window   time.Duration
}

// DefaultScanParams is a passive scan with a 125 ms interval and window.
var DefaultScanParams = ScanParams{
	Active:   false,
	Interval: 125 * time.Millisecond,
	Window:   125 * time.Millisecond,
}

const scanUnit = 625 * time.Microsecond

// ConnParams are the link parameters requested when connecting.
type ConnParams struct {
	IntervalMin        time.Duration
	IntervalMax        time.Duration
	SupervisionTimeout time.Duration
	Latency            uint16
}

// DefaultConnParams are the central's default link parameters.
var DefaultConnParams = ConnParams{
	IntervalMin:        10 * time.Millisecond,
	IntervalMax:        16 * time.Millisecond,
	SupervisionTimeout: 10 * time.Second,
	Latency:            0,
}

const (
	intervalUnit = 1250 * time.Microsecond
	timeoutUnit  = 10 * time.Millisecond
	minInterval  = 7500 * time.Microsecond
)

// ErrInvalidConnParams is returned for connection parameters the link layer would reject.
var ErrInvalidConnParams = errors.New("invalid connection parameters")

// Validate checks p against the link layer constraints.
func (p ConnParams) Validate() error {
	if p.IntervalMin < minInterval {
		return errors.Wrapf(ErrInvalidConnParams, "interval min %v below %v", p.IntervalMin, minInterval)
	}
	if p.IntervalMax < p.IntervalMin {
		return errors.Wrapf(ErrInvalidConnParams, "interval max %v below min %v", p.IntervalMax, p.IntervalMin)
	}
	if limit := time.Duration(1+int64(p.Latency)) * p.IntervalMax * 2; p.SupervisionTimeout <= limit {
		return errors.Wrapf(ErrInvalidConnParams, "supervision timeout %v must exceed %v", p.SupervisionTimeout, limit)
	}
	return nil
}

// ConnInterval converts a connection interval in 1.25 ms units.
func ConnInterval(units uint16) time.Duration { return time.Duration(units) * intervalUnit }

// SupervisionTimeout converts a supervision timeout in 10 ms units.
func SupervisionTimeout(units uint16) time.Duration { return time.Duration(units) * timeoutUnit }
