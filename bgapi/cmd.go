package bgapi

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned when the radio does not answer within the
// operation's timeout.
var ErrTimeout = errors.New("bgapi: timeout")

// ErrClosed is returned by operations on a closed BGAPI.
var ErrClosed = errors.New("bgapi: closed")

// ProtocolError is a non-zero result code returned by the radio.
type ProtocolError struct {
	Op   string
	Code ErrorCode
}

func (e *ProtocolError) Error() string {
	return "bgapi: " + e.Op + ": " + e.Code.String()
}

func checkResult(op string, code ErrorCode) error {
	if code == ErrNone {
		return nil
	}
	return &ProtocolError{Op: op, Code: code}
}

// IsCode reports whether err carries the result code c.
func IsCode(err error, c ErrorCode) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Code == c
}

type cmdParam interface {
	id() ID
	len() int
	marshal([]byte)
}

func marshalCmd(cp cmdParam) []byte {
	pkt := Packet{ID: cp.id(), Payload: make([]byte, cp.len())}
	cp.marshal(pkt.Payload)
	return pkt.Marshal()
}

type timeoutKey struct{}

// WithTimeout overrides the default timeout of the next operation issued
// with the returned context.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func timeoutFrom(ctx context.Context, def time.Duration) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return def
}

type cmdResult struct {
	rsp interface{}
	err error
}

type cmdPkt struct {
	cp   cmdParam
	done chan cmdResult
}

// cmd allows a single outstanding command. Responses carry no transaction
// ID, so the next response with the pending command's class and command
// completes it.
type cmd struct {
	w   io.Writer
	log *logrus.Entry

	sem    chan struct{}
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending *cmdPkt
}

func newCmd(w io.Writer, l *logrus.Entry) *cmd {
	return &cmd{
		w:      w,
		log:    l,
		sem:    make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *cmd) acquire(ctx context.Context, id ID) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctxErr(ctx, id)
	}
}

func (c *cmd) release() { <-c.sem }

func (c *cmd) write(cp cmdParam) error {
	raw := marshalCmd(cp)
	c.log.Tracef("< %s [ % X ]", cp.id(), raw)
	if n, err := c.w.Write(raw); err != nil {
		return errors.Wrapf(err, "write %s", cp.id())
	} else if n != len(raw) {
		return errors.Errorf("write %s: short write %d of %d bytes", cp.id(), n, len(raw))
	}
	return nil
}

// send writes cp and waits for its response, the timeout, ctx or close,
// whichever comes first. Callers queue behind the outstanding command.
func (c *cmd) send(ctx context.Context, cp cmdParam, timeout time.Duration) (interface{}, error) {
	id := cp.id()
	if err := c.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer c.release()

	p := &cmdPkt{cp: cp, done: make(chan cmdResult, 1)}
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()
	defer c.clear(p)

	if err := c.write(cp); err != nil {
		return nil, err
	}

	t := time.NewTimer(timeoutFrom(ctx, timeout))
	defer t.Stop()
	select {
	case r := <-p.done:
		return r.rsp, r.err
	case <-t.C:
		return nil, errors.Wrapf(ErrTimeout, "%s", id)
	case <-ctx.Done():
		return nil, ctxErr(ctx, id)
	case <-c.closed:
		return nil, ErrClosed
	}
}

// post writes a command that is never answered, such as a system reset.
func (c *cmd) post(ctx context.Context, cp cmdParam) error {
	if err := c.acquire(ctx, cp.id()); err != nil {
		return err
	}
	defer c.release()
	return c.write(cp)
}

func (c *cmd) clear(p *cmdPkt) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// handleResponse completes the pending command. Responses that arrive with
// nothing pending, or for a different command, are dropped.
func (c *cmd) handleResponse(id ID, rsp interface{}, err error) {
	c.mu.Lock()
	p := c.pending
	if p != nil && p.cp.id() == id {
		c.pending = nil
	}
	c.mu.Unlock()

	switch {
	case p == nil:
		c.log.Warnf("unsolicited %s dropped", id)
	case p.cp.id() != id:
		c.log.Warnf("%s does not answer pending %s, dropped", id, p.cp.id())
	default:
		p.done <- cmdResult{rsp: rsp, err: err}
	}
}

func (c *cmd) close() {
	c.once.Do(func() { close(c.closed) })
}

func ctxErr(ctx context.Context, id ID) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(ErrTimeout, "%s", id)
	}
	return errors.Wrapf(ctx.Err(), "%s", id)
}

// System commands

type systemReset struct{ dfu bool }

func (c systemReset) id() ID   { return rsp(ClassSystem, 0) }
func (c systemReset) len() int { return 1 }
func (c systemReset) marshal(b []byte) {
	b[0] = 0
	if c.dfu {
		b[0] = 1
	}
}

type systemHello struct{}

func (c systemHello) id() ID           { return rsp(ClassSystem, 1) }
func (c systemHello) len() int         { return 0 }
func (c systemHello) marshal(b []byte) {}

type systemAddressGet struct{}

func (c systemAddressGet) id() ID           { return rsp(ClassSystem, 2) }
func (c systemAddressGet) len() int         { return 0 }
func (c systemAddressGet) marshal(b []byte) {}

type systemRegWrite struct {
	address uint16
	value   uint8
}

func (c systemRegWrite) id() ID   { return rsp(ClassSystem, 3) }
func (c systemRegWrite) len() int { return 3 }
func (c systemRegWrite) marshal(b []byte) {
	o.PutUint16(b[0:], c.address)
	o.PutUint8(b[2:], c.value)
}

type systemRegRead struct{ address uint16 }

func (c systemRegRead) id() ID           { return rsp(ClassSystem, 4) }
func (c systemRegRead) len() int         { return 2 }
func (c systemRegRead) marshal(b []byte) { o.PutUint16(b, c.address) }

type systemGetCounters struct{}

func (c systemGetCounters) id() ID           { return rsp(ClassSystem, 5) }
func (c systemGetCounters) len() int         { return 0 }
func (c systemGetCounters) marshal(b []byte) {}

type systemGetConnections struct{}

func (c systemGetConnections) id() ID           { return rsp(ClassSystem, 6) }
func (c systemGetConnections) len() int         { return 0 }
func (c systemGetConnections) marshal(b []byte) {}

type systemGetInfo struct{}

func (c systemGetInfo) id() ID           { return rsp(ClassSystem, 8) }
func (c systemGetInfo) len() int         { return 0 }
func (c systemGetInfo) marshal(b []byte) {}

// Connection commands

type connectionDisconnect struct{ connection uint8 }

func (c connectionDisconnect) id() ID           { return rsp(ClassConnection, 0) }
func (c connectionDisconnect) len() int         { return 1 }
func (c connectionDisconnect) marshal(b []byte) { b[0] = c.connection }

type connectionGetRSSI struct{ connection uint8 }

func (c connectionGetRSSI) id() ID           { return rsp(ClassConnection, 1) }
func (c connectionGetRSSI) len() int         { return 1 }
func (c connectionGetRSSI) marshal(b []byte) { b[0] = c.connection }

type connectionUpdate struct {
	connection  uint8
	intervalMin uint16
	intervalMax uint16
	latency     uint16
	timeout     uint16
}

func (c connectionUpdate) id() ID   { return rsp(ClassConnection, 2) }
func (c connectionUpdate) len() int { return 9 }
func (c connectionUpdate) marshal(b []byte) {
	o.PutUint8(b[0:], c.connection)
	o.PutUint16(b[1:], c.intervalMin)
	o.PutUint16(b[3:], c.intervalMax)
	o.PutUint16(b[5:], c.latency)
	o.PutUint16(b[7:], c.timeout)
}

// ATT client commands

// attclientRange covers read_by_group_type and read_by_type.
type attclientRange struct {
	command    uint8
	connection uint8
	start      uint16
	end        uint16
	uuid       []byte
}

func (c attclientRange) id() ID   { return rsp(ClassATTClient, c.command) }
func (c attclientRange) len() int { return 6 + len(c.uuid) }
func (c attclientRange) marshal(b []byte) {
	o.PutUint8(b[0:], c.connection)
	o.PutUint16(b[1:], c.start)
	o.PutUint16(b[3:], c.end)
	o.PutUint8(b[5:], uint8(len(c.uuid)))
	copy(b[6:], c.uuid)
}

type attclientFindInformation struct {
	connection uint8
	start      uint16
	end        uint16
}

func (c attclientFindInformation) id() ID   { return rsp(ClassATTClient, 3) }
func (c attclientFindInformation) len() int { return 5 }
func (c attclientFindInformation) marshal(b []byte) {
	o.PutUint8(b[0:], c.connection)
	o.PutUint16(b[1:], c.start)
	o.PutUint16(b[3:], c.end)
}

// attclientHandle covers read_by_handle and read_long.
type attclientHandle struct {
	command    uint8
	connection uint8
	handle     uint16
}

func (c attclientHandle) id() ID   { return rsp(ClassATTClient, c.command) }
func (c attclientHandle) len() int { return 3 }
func (c attclientHandle) marshal(b []byte) {
	o.PutUint8(b[0:], c.connection)
	o.PutUint16(b[1:], c.handle)
}

// attclientWrite covers attribute_write and write_command.
type attclientWrite struct {
	command    uint8
	connection uint8
	handle     uint16
	data       []byte
}

func (c attclientWrite) id() ID   { return rsp(ClassATTClient, c.command) }
func (c attclientWrite) len() int { return 4 + len(c.data) }
func (c attclientWrite) marshal(b []byte) {
	o.PutUint8(b[0:], c.connection)
	o.PutUint16(b[1:], c.handle)
	o.PutUint8(b[3:], uint8(len(c.data)))
	copy(b[4:], c.data)
}

type attclientIndicateConfirm struct{ connection uint8 }

func (c attclientIndicateConfirm) id() ID           { return rsp(ClassATTClient, 7) }
func (c attclientIndicateConfirm) len() int         { return 1 }
func (c attclientIndicateConfirm) marshal(b []byte) { b[0] = c.connection }

// GAP commands

type gapSetMode struct{ discover, connect uint8 }

func (c gapSetMode) id() ID           { return rsp(ClassGAP, 1) }
func (c gapSetMode) len() int         { return 2 }
func (c gapSetMode) marshal(b []byte) { b[0], b[1] = c.discover, c.connect }

type gapDiscover struct{ mode DiscoverMode }

func (c gapDiscover) id() ID           { return rsp(ClassGAP, 2) }
func (c gapDiscover) len() int         { return 1 }
func (c gapDiscover) marshal(b []byte) { b[0] = uint8(c.mode) }

type gapConnectDirect struct {
	address     Addr
	addrType    AddressType
	intervalMin uint16
	intervalMax uint16
	timeout     uint16
	latency     uint16
}

func (c gapConnectDirect) id() ID   { return rsp(ClassGAP, 3) }
func (c gapConnectDirect) len() int { return 15 }
func (c gapConnectDirect) marshal(b []byte) {
	copy(b[0:6], c.address[:])
	o.PutUint8(b[6:], uint8(c.addrType))
	o.PutUint16(b[7:], c.intervalMin)
	o.PutUint16(b[9:], c.intervalMax)
	o.PutUint16(b[11:], c.timeout)
	o.PutUint16(b[13:], c.latency)
}

type gapEndProcedure struct{}

func (c gapEndProcedure) id() ID           { return rsp(ClassGAP, 4) }
func (c gapEndProcedure) len() int         { return 0 }
func (c gapEndProcedure) marshal(b []byte) {}

type gapSetFiltering struct {
	scanPolicy   uint8
	advPolicy    uint8
	dupFiltering uint8
}

func (c gapSetFiltering) id() ID   { return rsp(ClassGAP, 6) }
func (c gapSetFiltering) len() int { return 3 }
func (c gapSetFiltering) marshal(b []byte) {
	b[0], b[1], b[2] = c.scanPolicy, c.advPolicy, c.dupFiltering
}

type gapSetScanParameters struct {
	interval uint16
	window   uint16
	active   bool
}

func (c gapSetScanParameters) id() ID   { return rsp(ClassGAP, 7) }
func (c gapSetScanParameters) len() int { return 5 }
func (c gapSetScanParameters) marshal(b []byte) {
	o.PutUint16(b[0:], c.interval)
	o.PutUint16(b[2:], c.window)
	o.PutUint8(b[4:], 0)
	if c.active {
		o.PutUint8(b[4:], 1)
	}
}
