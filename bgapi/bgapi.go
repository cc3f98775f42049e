// Package bgapi implements the Bluegiga BGAPI serial protocol spoken by
// BLED112 class radios.
package bgapi

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang-collections/go-datastructures/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default command timeouts.
const (
	TimeoutHello           = 4000 * time.Millisecond
	TimeoutAddressGet      = 4000 * time.Millisecond
	TimeoutRegister        = 6000 * time.Millisecond
	TimeoutSystem          = 4000 * time.Millisecond
	TimeoutReset           = 3000 * time.Millisecond
	TimeoutGAP             = 6000 * time.Millisecond
	TimeoutEndProcedure    = 600 * time.Millisecond
	TimeoutConnectDirect   = 6000 * time.Millisecond
	TimeoutDisconnect      = 6000 * time.Millisecond
	TimeoutConnection      = 4000 * time.Millisecond
	TimeoutATTProcedure    = 6000 * time.Millisecond
	TimeoutReadByHandle    = 4000 * time.Millisecond
	TimeoutIndicateConfirm = 4000 * time.Millisecond
)

const readBufferSize = 4096

// A transport returning this many zero-byte EOFs in a row, each faster than
// minIdleRead, is gone. Idle serial lines block for their read timeout.
const (
	deadEOFs    = 32
	minIdleRead = time.Millisecond
)

// BGAPI drives a BGAPI radio over a byte transport. Inbound bytes are read
// on one goroutine and parsed on another; commands are serialized.
type BGAPI struct {
	rw     io.ReadWriteCloser
	log    *logrus.Entry
	parser *Parser
	cmd    *cmd
	evt    *event
	rxq    *queue.Queue

	errc      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// New starts a BGAPI on rw. A nil logger uses the logrus standard logger.
func New(rw io.ReadWriteCloser, l *logrus.Entry) *BGAPI {
	if l == nil {
		l = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &BGAPI{
		rw:     rw,
		log:    l,
		parser: &Parser{},
		cmd:    newCmd(rw, l),
		evt:    newEvent(),
		rxq:    queue.New(64),
		errc:   make(chan error, 2),
		closed: make(chan struct{}),
	}
	go a.readLoop()
	go a.parseLoop()
	return a
}

// Subscribe registers h for every decoded event. The returned func removes it.
func (a *BGAPI) Subscribe(h EventHandler) (cancel func()) {
	return a.evt.subscribe(h)
}

// Err reports failures of the background reader and parser. Each of them
// stops after reporting.
func (a *BGAPI) Err() <-chan error { return a.errc }

// Close stops the background workers and closes the transport. Pending and
// queued commands fail with ErrClosed.
func (a *BGAPI) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		a.cmd.close()
		a.rxq.Dispose()
		err = a.rw.Close()
	})
	return err
}

func (a *BGAPI) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

func (a *BGAPI) fail(err error) {
	a.log.WithError(err).Error("bgapi listener stopped")
	select {
	case a.errc <- err:
	default:
	}
}

func (a *BGAPI) readLoop() {
	b := make([]byte, readBufferSize)
	eofs := 0
	for {
		start := time.Now()
		n, err := a.rw.Read(b)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, b[:n])
			if perr := a.rxq.Put(chunk); perr != nil {
				return
			}
		}
		if a.isClosed() {
			return
		}
		// Serial ports with a read timeout report an idle line as EOF.
		if err != nil && err != io.EOF {
			a.fail(errors.Wrap(err, "bgapi: read"))
			return
		}
		if err == io.EOF && n == 0 && time.Since(start) < minIdleRead {
			eofs++
			if eofs >= deadEOFs {
				a.fail(errors.Wrap(err, "bgapi: read: transport closed"))
				return
			}
			time.Sleep(time.Duration(eofs) * time.Millisecond)
			continue
		}
		eofs = 0
	}
}

func (a *BGAPI) parseLoop() {
	defer func() {
		if r := recover(); r != nil {
			a.fail(errors.Errorf("bgapi: parse worker panic: %v", r))
		}
	}()
	for {
		items, err := a.rxq.Get(1)
		if err != nil {
			return
		}
		for _, it := range items {
			a.parse(it.([]byte))
		}
	}
}

func (a *BGAPI) parse(b []byte) {
	for _, c := range b {
		res, pkt, err := a.parser.Feed(c)
		switch res {
		case FormatError:
			a.log.WithError(err).Warn("resynchronizing")
		case Framed:
			a.handlePacket(pkt)
		}
	}
}

func (a *BGAPI) handlePacket(pkt *Packet) {
	a.log.Tracef("> %s [ % X ]", pkt.ID, pkt.Payload)
	rec, err := Decode(pkt)
	if pkt.Event {
		if err != nil {
			a.log.WithError(err).Warn("event dropped")
			return
		}
		a.evt.dispatch(rec)
		return
	}
	a.cmd.handleResponse(pkt.ID, rec, err)
}

// System

// Reset restarts the radio, into the DFU bootloader if dfu is set. It
// waits for the boot event, or TimeoutReset when none arrives.
func (a *BGAPI) Reset(ctx context.Context, dfu bool) error {
	booted := make(chan struct{}, 1)
	cancel := a.Subscribe(HandlerFunc(func(evt interface{}) {
		if _, ok := evt.(*SystemBootEvt); ok {
			select {
			case booted <- struct{}{}:
			default:
			}
		}
	}))
	defer cancel()

	if err := a.cmd.post(ctx, systemReset{dfu: dfu}); err != nil {
		return err
	}
	t := time.NewTimer(timeoutFrom(ctx, TimeoutReset))
	defer t.Stop()
	select {
	case <-booted:
	case <-t.C:
		if !dfu {
			a.log.Warn("no boot event after reset")
		}
	case <-ctx.Done():
		return ctxErr(ctx, systemReset{}.id())
	}
	return nil
}

// Hello pings the radio.
func (a *BGAPI) Hello(ctx context.Context) error {
	_, err := a.cmd.send(ctx, systemHello{}, TimeoutHello)
	return err
}

// AddressGet returns the radio's public address.
func (a *BGAPI) AddressGet(ctx context.Context) (Addr, error) {
	r, err := a.cmd.send(ctx, systemAddressGet{}, TimeoutAddressGet)
	if err != nil {
		return Addr{}, err
	}
	return r.(*SystemAddressGetRsp).Address, nil
}

// RegRead reads a radio register.
func (a *BGAPI) RegRead(ctx context.Context, address uint16) (uint8, error) {
	r, err := a.cmd.send(ctx, systemRegRead{address: address}, TimeoutRegister)
	if err != nil {
		return 0, err
	}
	return r.(*SystemRegReadRsp).Value, nil
}

// RegWrite writes a radio register.
func (a *BGAPI) RegWrite(ctx context.Context, address uint16, value uint8) error {
	r, err := a.cmd.send(ctx, systemRegWrite{address: address, value: value}, TimeoutRegister)
	if err != nil {
		return err
	}
	return checkResult("reg_write", r.(*SystemRegWriteRsp).Result)
}

// GetInfo returns the radio firmware and hardware versions.
func (a *BGAPI) GetInfo(ctx context.Context) (*Info, error) {
	r, err := a.cmd.send(ctx, systemGetInfo{}, TimeoutSystem)
	if err != nil {
		return nil, err
	}
	info := r.(*SystemGetInfoRsp).Info
	return &info, nil
}

// GetCounters returns the radio's packet counters.
func (a *BGAPI) GetCounters(ctx context.Context) (*SystemGetCountersRsp, error) {
	r, err := a.cmd.send(ctx, systemGetCounters{}, TimeoutSystem)
	if err != nil {
		return nil, err
	}
	return r.(*SystemGetCountersRsp), nil
}

// GetConnections returns how many simultaneous connections the radio supports.
func (a *BGAPI) GetConnections(ctx context.Context) (uint8, error) {
	r, err := a.cmd.send(ctx, systemGetConnections{}, TimeoutSystem)
	if err != nil {
		return 0, err
	}
	return r.(*SystemGetConnectionsRsp).MaxConn, nil
}

// GAP

// SetMode sets the GAP discoverable and connectable modes.
func (a *BGAPI) SetMode(ctx context.Context, discover, connect uint8) error {
	r, err := a.cmd.send(ctx, gapSetMode{discover: discover, connect: connect}, TimeoutGAP)
	if err != nil {
		return err
	}
	return checkResult("set_mode", r.(*GAPRsp).Result)
}

// SetFiltering sets the scan and advertising policies.
func (a *BGAPI) SetFiltering(ctx context.Context, scanPolicy, advPolicy uint8, dupFiltering bool) error {
	cp := gapSetFiltering{scanPolicy: scanPolicy, advPolicy: advPolicy}
	if dupFiltering {
		cp.dupFiltering = 1
	}
	r, err := a.cmd.send(ctx, cp, TimeoutGAP)
	if err != nil {
		return err
	}
	return checkResult("set_filtering", r.(*GAPRsp).Result)
}

// SetScanParameters configures the scan procedure. The radio rejects it
// with DeviceInWrongState while scanning; that is logged and accepted.
func (a *BGAPI) SetScanParameters(ctx context.Context, p ScanParams) error {
	cp := gapSetScanParameters{
		interval: uint16(p.Interval / scanUnit),
		window:   uint16(p.Window / scanUnit),
		active:   p.Active,
	}
	r, err := a.cmd.send(ctx, cp, TimeoutGAP)
	if err != nil {
		return err
	}
	return a.acceptWrongState("set_scan_parameters", r.(*GAPRsp).Result)
}

// Discover starts scanning.
func (a *BGAPI) Discover(ctx context.Context, mode DiscoverMode) error {
	r, err := a.cmd.send(ctx, gapDiscover{mode: mode}, TimeoutGAP)
	if err != nil {
		return err
	}
	return checkResult("discover", r.(*GAPRsp).Result)
}

// EndProcedure stops the running GAP procedure. Stopping when nothing runs
// is not an error.
func (a *BGAPI) EndProcedure(ctx context.Context) error {
	r, err := a.cmd.send(ctx, gapEndProcedure{}, TimeoutEndProcedure)
	if err != nil {
		return err
	}
	return a.acceptWrongState("end_procedure", r.(*GAPRsp).Result)
}

func (a *BGAPI) acceptWrongState(op string, code ErrorCode) error {
	if code == ErrDeviceInWrongState {
		a.log.WithField("op", op).Info(code)
		return nil
	}
	return checkResult(op, code)
}

// ConnectDirect starts connecting to addr and returns the connection
// handle. The link is up once a connection status event arrives.
func (a *BGAPI) ConnectDirect(ctx context.Context, addr Addr, typ AddressType, p ConnParams) (uint8, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	cp := gapConnectDirect{
		address:     addr,
		addrType:    typ,
		intervalMin: uint16(p.IntervalMin / intervalUnit),
		intervalMax: uint16(p.IntervalMax / intervalUnit),
		timeout:     uint16(p.SupervisionTimeout / timeoutUnit),
		latency:     p.Latency,
	}
	r, err := a.cmd.send(ctx, cp, TimeoutConnectDirect)
	if err != nil {
		return 0, err
	}
	rsp := r.(*GAPConnectRsp)
	return rsp.Connection, checkResult("connect_direct", rsp.Result)
}

// Connection

// Disconnect starts closing a connection. A disconnected event follows.
func (a *BGAPI) Disconnect(ctx context.Context, conn uint8) error {
	r, err := a.cmd.send(ctx, connectionDisconnect{connection: conn}, TimeoutDisconnect)
	if err != nil {
		return err
	}
	return checkResult("disconnect", r.(*ConnectionRsp).Result)
}

// GetRSSI returns the signal strength of a connection.
func (a *BGAPI) GetRSSI(ctx context.Context, conn uint8) (int8, error) {
	r, err := a.cmd.send(ctx, connectionGetRSSI{connection: conn}, TimeoutConnection)
	if err != nil {
		return 0, err
	}
	return r.(*ConnectionGetRSSIRsp).RSSI, nil
}

// UpdateConnection requests new link parameters.
func (a *BGAPI) UpdateConnection(ctx context.Context, conn uint8, p ConnParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cp := connectionUpdate{
		connection:  conn,
		intervalMin: uint16(p.IntervalMin / intervalUnit),
		intervalMax: uint16(p.IntervalMax / intervalUnit),
		latency:     p.Latency,
		timeout:     uint16(p.SupervisionTimeout / timeoutUnit),
	}
	r, err := a.cmd.send(ctx, cp, TimeoutConnection)
	if err != nil {
		return err
	}
	return checkResult("update", r.(*ConnectionRsp).Result)
}

// ATT client. Each call only starts a procedure; its results arrive as
// attclient events ending with procedure_completed.

func (a *BGAPI) attclient(ctx context.Context, op string, cp cmdParam, timeout time.Duration) error {
	r, err := a.cmd.send(ctx, cp, timeout)
	if err != nil {
		return err
	}
	return checkResult(op, r.(*ATTClientRsp).Result)
}

// ReadByGroupType starts a read by group type over [start, end].
func (a *BGAPI) ReadByGroupType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error {
	cp := attclientRange{command: 1, connection: conn, start: start, end: end, uuid: uuid}
	return a.attclient(ctx, "read_by_group_type", cp, TimeoutATTProcedure)
}

// ReadByType starts a read by type over [start, end].
func (a *BGAPI) ReadByType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error {
	cp := attclientRange{command: 2, connection: conn, start: start, end: end, uuid: uuid}
	return a.attclient(ctx, "read_by_type", cp, TimeoutATTProcedure)
}

// FindInformation starts listing the attribute handles in [start, end].
func (a *BGAPI) FindInformation(ctx context.Context, conn uint8, start, end uint16) error {
	cp := attclientFindInformation{connection: conn, start: start, end: end}
	return a.attclient(ctx, "find_information", cp, TimeoutATTProcedure)
}

// ReadByHandle starts reading one attribute.
func (a *BGAPI) ReadByHandle(ctx context.Context, conn uint8, handle uint16) error {
	cp := attclientHandle{command: 4, connection: conn, handle: handle}
	return a.attclient(ctx, "read_by_handle", cp, TimeoutReadByHandle)
}

// ReadLong starts reading an attribute longer than one PDU.
func (a *BGAPI) ReadLong(ctx context.Context, conn uint8, handle uint16) error {
	cp := attclientHandle{command: 8, connection: conn, handle: handle}
	return a.attclient(ctx, "read_long", cp, TimeoutReadByHandle)
}

// AttributeWrite starts an acknowledged write.
func (a *BGAPI) AttributeWrite(ctx context.Context, conn uint8, handle uint16, data []byte) error {
	cp := attclientWrite{command: 5, connection: conn, handle: handle, data: data}
	return a.attclient(ctx, "attribute_write", cp, TimeoutATTProcedure)
}

// WriteCommand writes without acknowledgement.
func (a *BGAPI) WriteCommand(ctx context.Context, conn uint8, handle uint16, data []byte) error {
	cp := attclientWrite{command: 6, connection: conn, handle: handle, data: data}
	return a.attclient(ctx, "write_command", cp, TimeoutATTProcedure)
}

// IndicateConfirm acknowledges an indication.
func (a *BGAPI) IndicateConfirm(ctx context.Context, conn uint8) error {
	r, err := a.cmd.send(ctx, attclientIndicateConfirm{connection: conn}, TimeoutIndicateConfirm)
	if err != nil {
		return err
	}
	return checkResult("indicate_confirm", r.(*ATTClientIndicateConfirmRsp).Result)
}
