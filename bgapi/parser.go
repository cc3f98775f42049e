package bgapi

import "fmt"

// Result reports what a single Feed call produced.
type Result int

const (
	Incomplete Result = iota
	Framed
	FormatError
)

func (r Result) String() string {
	return [...]string{"Incomplete", "Framed", "FormatError"}[r]
}

// FramingError is reported when the first byte of a frame carries a
// technology type other than Bluetooth Smart. The parser discards the byte
// and waits for the next header.
type FramingError struct {
	Byte byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bgapi: bad header byte 0x%02X (technology type %d)", e.Byte, (e.Byte&maskTech)>>3)
}

// Parser reassembles BGAPI packets from a byte stream.
type Parser struct {
	buf      []byte
	expected int
}

// Feed consumes one byte. It returns Framed with the packet once the last
// byte of a frame has been fed.
func (p *Parser) Feed(b byte) (Result, *Packet, error) {
	if len(p.buf) == 0 && b&maskTech != 0 {
		return FormatError, nil, &FramingError{Byte: b}
	}
	p.buf = append(p.buf, b)
	if len(p.buf) == 2 {
		p.expected = headerLen + (int(p.buf[0]&maskLenHi)<<8 | int(b))
	}
	if len(p.buf) < headerLen || len(p.buf) < p.expected {
		return Incomplete, nil, nil
	}

	pkt := &Packet{
		ID: ID{
			Event:   p.buf[0]&flagEvent != 0,
			Class:   Class(p.buf[2]),
			Command: p.buf[3],
		},
		Payload: append([]byte(nil), p.buf[headerLen:]...),
	}
	p.Reset()
	return Framed, pkt, nil
}

// Parse feeds a chunk of bytes and returns the packets completed by it
// along with any framing errors, in stream order.
func (p *Parser) Parse(b []byte) ([]*Packet, []error) {
	var pkts []*Packet
	var errs []error
	for _, c := range b {
		switch res, pkt, err := p.Feed(c); res {
		case Framed:
			pkts = append(pkts, pkt)
		case FormatError:
			errs = append(errs, err)
		}
	}
	return pkts, errs
}

// Buffered returns the number of bytes of the frame in progress.
func (p *Parser) Buffered() int { return len(p.buf) }

// Reset drops any partial frame.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.expected = 0
}
