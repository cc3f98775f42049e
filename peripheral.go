package gatt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PeripheralState is the link state of a Peripheral.
type PeripheralState int

const (
	StateDisconnected PeripheralState = iota
	StateConnecting
	StateConnected
	StateDisposed
)

func (s PeripheralState) String() string {
	str := []string{
		"Disconnected",
		"Connecting",
		"Connected",
		"Disposed",
	}
	return str[int(s)]
}

// LinkParams are the parameters of an established link.
type LinkParams struct {
	Interval           time.Duration
	SupervisionTimeout time.Duration
	Latency            uint16
}

// procBuffer is how many events a running procedure may fall behind.
const procBuffer = 256

// A procedure receives the ATT client events of the one ATT request a
// peripheral may have outstanding.
type procedure struct {
	evc  chan interface{}
	done <-chan struct{}
}

// next returns the next event of the procedure.
func (pr *procedure) next(ctx context.Context, timeout <-chan time.Time, op string) (interface{}, error) {
	select {
	case e := <-pr.evc:
		return e, nil
	case <-timeout:
		return nil, errors.Wrap(ErrTimeout, op)
	case <-pr.done:
		return nil, errors.Wrap(ErrConnectionDropped, op)
	case <-ctx.Done():
		return nil, waitError(ctx, op)
	}
}

// A Peripheral is a remote device seen while scanning.
type Peripheral struct {
	cm   *CentralManager
	api  API
	addr BDAddr
	typ  AddressType
	log  *logrus.Entry

	procSem chan struct{}

	mu       sync.Mutex
	state    PeripheralState
	name     string
	rssi     int
	conn     uint8
	params   LinkParams
	services []*Service
	done     chan struct{} // closed when the link goes down
	proc     *procedure
}

func newPeripheral(cm *CentralManager, addr BDAddr, typ AddressType) *Peripheral {
	done := make(chan struct{})
	close(done)
	return &Peripheral{
		cm:      cm,
		api:     cm.api,
		addr:    addr,
		typ:     typ,
		log:     cm.log.WithField("peripheral", addr),
		procSem: make(chan struct{}, 1),
		done:    done,
	}
}

func (p *Peripheral) String() string {
	return fmt.Sprintf("%s (%s)", p.addr, p.typ)
}

// Address returns the device address.
func (p *Peripheral) Address() BDAddr { return p.addr }

// AddressType tells whether Address is public or random.
func (p *Peripheral) AddressType() AddressType { return p.typ }

// Name returns the last advertised local name.
func (p *Peripheral) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// RSSI returns the last seen signal strength, in dBm.
func (p *Peripheral) RSSI() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rssi
}

// State returns the link state.
func (p *Peripheral) State() PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ConnParams returns the parameters of the current link.
func (p *Peripheral) ConnParams() LinkParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// Services returns the services found by the last DiscoverServices.
func (p *Peripheral) Services() []*Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Service(nil), p.services...)
}

func (p *Peripheral) seen(name string, rssi int) {
	p.mu.Lock()
	if name != "" {
		p.name = name
	}
	p.rssi = rssi
	p.mu.Unlock()
}

// connecting moves a disconnected peripheral to Connecting.
func (p *Peripheral) connecting() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateDisposed:
		return ErrDisposed
	case StateDisconnected:
		p.state = StateConnecting
		return nil
	}
	return stateError("connect", p.state)
}

func (p *Peripheral) connected(conn uint8, params LinkParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return
	}
	p.conn = conn
	p.params = params
	p.services = nil
	p.done = make(chan struct{})
	p.state = StateConnected
	p.log.WithField("conn", conn).Debugf("connected, interval %v timeout %v latency %d",
		params.Interval, params.SupervisionTimeout, params.Latency)
}

func (p *Peripheral) updateParams(params LinkParams) {
	p.mu.Lock()
	p.params = params
	p.mu.Unlock()
}

// disconnected tears the services down and wakes up waiting procedures.
func (p *Peripheral) disconnected() { p.teardown(StateDisconnected) }

func (p *Peripheral) dispose() { p.teardown(StateDisposed) }

// teardown closes characteristics, then services, then the peripheral
// link itself.
func (p *Peripheral) teardown(to PeripheralState) {
	p.mu.Lock()
	if p.state == StateDisposed || p.state == to {
		p.mu.Unlock()
		return
	}
	ss := p.services
	p.services = nil
	p.mu.Unlock()

	closeServices(ss)

	p.mu.Lock()
	was := p.state
	p.state = to
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.mu.Unlock()
	p.log.Debugf("%s -> %s", was, to)
}

func closeServices(ss []*Service) {
	for _, s := range ss {
		s.close()
	}
}

func (p *Peripheral) checkLocked(op string) error {
	switch p.state {
	case StateConnected:
		return nil
	case StateDisposed:
		return ErrDisposed
	}
	return stateError(op, p.state)
}

// link returns the connection handle of a connected peripheral.
func (p *Peripheral) link(op string) (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(op); err != nil {
		return 0, err
	}
	return p.conn, nil
}

// begin waits for the ATT request slot and opens a procedure.
func (p *Peripheral) begin(ctx context.Context, op string) (*procedure, uint8, error) {
	p.mu.Lock()
	err := p.checkLocked(op)
	done := p.done
	p.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	select {
	case p.procSem <- struct{}{}:
	case <-done:
		return nil, 0, errors.Wrap(ErrConnectionDropped, op)
	case <-ctx.Done():
		return nil, 0, waitError(ctx, op)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(op); err != nil {
		<-p.procSem
		return nil, 0, err
	}
	pr := &procedure{evc: make(chan interface{}, procBuffer), done: p.done}
	p.proc = pr
	return pr, p.conn, nil
}

func (p *Peripheral) end(pr *procedure) {
	p.mu.Lock()
	if p.proc == pr {
		p.proc = nil
	}
	p.mu.Unlock()
	<-p.procSem
}

// handleATT routes an ATT client event of this peripheral's connection.
func (p *Peripheral) handleATT(evt interface{}) {
	if v, ok := evt.(*bgapi.ATTClientAttributeValueEvt); ok {
		switch v.Type {
		case bgapi.AttValueNotify, bgapi.AttValueIndicate, bgapi.AttValueIndicateRspReq:
			p.handlePush(v)
			return
		}
	}
	p.mu.Lock()
	pr := p.proc
	p.mu.Unlock()
	if pr == nil {
		p.log.Debugf("no procedure running, dropped %T", evt)
		return
	}
	select {
	case pr.evc <- evt:
	default:
		p.log.Warnf("procedure not keeping up, dropped %T", evt)
	}
}

// handlePush hands a notification or indication to the characteristic
// owning its handle.
func (p *Peripheral) handlePush(v *bgapi.ATTClientAttributeValueEvt) {
	for _, s := range p.Services() {
		for _, c := range s.Characteristics() {
			if c.valueHandle == v.AttHandle {
				c.push(v.Value, v.Type)
				return
			}
		}
	}
	p.log.WithField("handle", fmt.Sprintf("0x%04X", v.AttHandle)).Debug("value pushed for unknown handle")
}

// DiscoverServices finds the primary services of the peripheral. When uu
// is not empty only services with a UUID in uu are kept.
func (p *Peripheral) DiscoverServices(ctx context.Context, uu ...UUID) ([]*Service, error) {
	const op = "discover services"
	pr, conn, err := p.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer p.end(pr)

	p.mu.Lock()
	old := p.services
	p.services = nil
	p.mu.Unlock()
	closeServices(old)

	if err := p.api.ReadByGroupType(ctx, conn, handleFirst, handleLast, attrPrimaryServiceUUID.b); err != nil {
		return nil, errors.Wrap(err, op)
	}
	timer := time.NewTimer(p.cm.discoveryTimeout)
	defer timer.Stop()

	var ss []*Service
	for {
		evt, err := pr.next(ctx, timer.C, op)
		if err != nil {
			return nil, err
		}
		switch e := evt.(type) {
		case *bgapi.ATTClientGroupFoundEvt:
			u := uuidFromWire(e.UUID)
			p.log.Debugf("found service %s [0x%04X, 0x%04X]", u, e.Start, e.End)
			if containsUUID(uu, u) {
				ss = append(ss, newService(p, u, e.Start, e.End))
			}
		case *bgapi.ATTClientProcedureCompletedEvt:
			if e.Result != 0 && e.Result != bgapi.ErrAttributeNotFound {
				return nil, &bgapi.ProtocolError{Op: op, Code: e.Result}
			}
			p.mu.Lock()
			if p.state == StateConnected {
				p.services = ss
			}
			p.mu.Unlock()
			return ss, nil
		}
	}
}

// ReadRSSI reads the signal strength of the link, in dBm.
func (p *Peripheral) ReadRSSI(ctx context.Context) (int, error) {
	conn, err := p.link("read rssi")
	if err != nil {
		return 0, err
	}
	rssi, err := p.api.GetRSSI(ctx, conn)
	if err != nil {
		return 0, errors.Wrap(err, "read rssi")
	}
	p.mu.Lock()
	p.rssi = int(rssi)
	p.mu.Unlock()
	return int(rssi), nil
}

// confirm acknowledges an indication.
func (p *Peripheral) confirm() {
	conn, err := p.link("confirm indication")
	if err != nil {
		return
	}
	if err := p.api.IndicateConfirm(context.Background(), conn); err != nil {
		p.log.WithError(err).Warn("indication not confirmed")
	}
}
