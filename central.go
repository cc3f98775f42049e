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

// CentralState is the state of a CentralManager.
type CentralState int

const (
	CentralIdle CentralState = iota
	CentralScanning
	CentralConnecting
	CentralConnected
	CentralDisposed
)

func (s CentralState) String() string {
	str := []string{
		"Idle",
		"Scanning",
		"Connecting",
		"Connected",
		"Disposed",
	}
	return str[int(s)]
}

// subscriber holds the callbacks registered by one Handle call.
type subscriber struct {
	discovered   func(p *Peripheral, a *Advertisement, rssi int)
	connected    func(p *Peripheral)
	disconnected func(p *Peripheral, reason string)
	stateChanged func(s CentralState)
}

// Handler sets a callback of a subscriber.
type Handler func(*subscriber)

// PeripheralDiscovered sets a function to be called for every advertisement
// or scan response received while scanning.
func PeripheralDiscovered(f func(*Peripheral, *Advertisement, int)) Handler {
	return func(s *subscriber) { s.discovered = f }
}

// PeripheralConnected sets a function to be called when a peripheral connects.
func PeripheralConnected(f func(*Peripheral)) Handler {
	return func(s *subscriber) { s.connected = f }
}

// PeripheralDisconnected sets a function to be called when the connected
// peripheral disconnects, with a readable reason.
func PeripheralDisconnected(f func(*Peripheral, string)) Handler {
	return func(s *subscriber) { s.disconnected = f }
}

// StateChanged sets a function to be called on every state transition.
func StateChanged(f func(CentralState)) Handler {
	return func(s *subscriber) { s.stateChanged = f }
}

// attempt is a connect in progress.
type attempt struct {
	addr    BDAddr
	statusc chan *bgapi.ConnectionStatusEvt
	discc   chan bgapi.ErrorCode
}

// A CentralManager scans for peripherals and holds at most one connection.
type CentralManager struct {
	api    API
	log    *logrus.Entry
	notify *notifier
	cache  *cache

	scan                 ScanParams
	conn                 ConnParams
	connectTimeout       time.Duration
	cancelTimeout        time.Duration
	discoveryTimeout     time.Duration
	charDiscoveryTimeout time.Duration
	readTimeout          time.Duration
	writeTimeout         time.Duration
	cacheSize            int

	mu        sync.Mutex
	state     CentralState
	periph    *Peripheral
	pending   *attempt
	scanErr   error
	resetting bool

	hmu  sync.Mutex
	subs []*subscriber

	done      chan struct{}
	closeOnce sync.Once
	unsub     func()
}

// NewCentralManager returns a CentralManager driving api. It listens to
// the events of api until Close.
func NewCentralManager(api API, opts ...Option) (*CentralManager, error) {
	cm := &CentralManager{
		api:                  api,
		log:                  logrus.StandardLogger().WithField("role", "central"),
		scan:                 bgapi.DefaultScanParams,
		conn:                 bgapi.DefaultConnParams,
		connectTimeout:       DefaultConnectTimeout,
		cancelTimeout:        DefaultCancelTimeout,
		discoveryTimeout:     DefaultDiscoveryTimeout,
		charDiscoveryTimeout: DefaultCharDiscoveryTimeout,
		readTimeout:          DefaultReadTimeout,
		writeTimeout:         DefaultWriteTimeout,
		cacheSize:            DefaultCacheSize,
		done:                 make(chan struct{}),
	}
	if err := cm.Option(opts...); err != nil {
		return nil, err
	}
	c, err := newCache(cm.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "gatt: peripheral cache")
	}
	cm.cache = c
	cm.notify = newNotifier(cm.log)
	cm.unsub = api.Subscribe(bgapi.HandlerFunc(cm.handleEvent))
	return cm, nil
}

// Handle registers a subscriber with the callbacks hh set. The returned
// func removes it.
func (cm *CentralManager) Handle(hh ...Handler) (cancel func()) {
	s := &subscriber{}
	for _, h := range hh {
		h(s)
	}
	cm.hmu.Lock()
	cm.subs = append(cm.subs, s)
	cm.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cm.hmu.Lock()
			defer cm.hmu.Unlock()
			for i, x := range cm.subs {
				if x == s {
					cm.subs = append(cm.subs[:i:i], cm.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit runs f for every subscriber on the notifier goroutine.
func (cm *CentralManager) emit(f func(*subscriber)) {
	cm.hmu.Lock()
	subs := append([]*subscriber(nil), cm.subs...)
	cm.hmu.Unlock()
	if len(subs) == 0 {
		return
	}
	cm.notify.post(func() {
		for _, s := range subs {
			f(s)
		}
	})
}

// setStateLocked moves to s and tells the subscribers. cm.mu must be held.
func (cm *CentralManager) setStateLocked(s CentralState) {
	if cm.state == s {
		return
	}
	cm.log.Debugf("%s -> %s", cm.state, s)
	cm.state = s
	cm.emit(func(sub *subscriber) {
		if sub.stateChanged != nil {
			sub.stateChanged(s)
		}
	})
}

// State returns the current state.
func (cm *CentralManager) State() CentralState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// ConnectedPeripheral returns the connected peripheral, or nil.
func (cm *CentralManager) ConnectedPeripheral() *Peripheral {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state != CentralConnected {
		return nil
	}
	return cm.periph
}

// Peripherals returns the peripherals discovered since the last StopScan,
// least recently seen first.
func (cm *CentralManager) Peripherals() []*Peripheral {
	return cm.cache.peripherals()
}

// NewPeripheral returns the peripheral with address addr, so that a
// peripheral known from an earlier session can be connected without
// scanning. The connected or connecting peripheral is returned for its own
// address.
func (cm *CentralManager) NewPeripheral(addr BDAddr, typ AddressType) (*Peripheral, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state == CentralDisposed {
		return nil, ErrDisposed
	}
	if cm.periph != nil && cm.periph.addr == addr {
		return cm.periph, nil
	}
	if s, ok := cm.cache.get(addr); ok {
		return s.p, nil
	}
	p := newPeripheral(cm, addr, typ)
	cm.cache.merge(addr, sighting{p: p, seen: time.Now()}, false)
	return p, nil
}

// Address returns the address of the local radio.
func (cm *CentralManager) Address(ctx context.Context) (BDAddr, error) {
	if cm.State() == CentralDisposed {
		return BDAddr{}, ErrDisposed
	}
	return cm.api.AddressGet(ctx)
}

// StartScan starts discovering peripherals with the configured scan
// parameters. Scanning while already scanning does nothing. When the radio
// refuses, the manager stays Scanning and StopScan recovers it.
func (cm *CentralManager) StartScan(ctx context.Context) error {
	cm.mu.Lock()
	switch cm.state {
	case CentralDisposed:
		cm.mu.Unlock()
		return ErrDisposed
	case CentralScanning:
		cm.mu.Unlock()
		cm.log.Info("already scanning")
		return nil
	case CentralConnecting, CentralConnected:
		err := stateError("start scan", cm.state)
		cm.mu.Unlock()
		return err
	}
	cm.scanErr = nil
	cm.setStateLocked(CentralScanning)
	cm.mu.Unlock()

	if err := cm.api.EndProcedure(ctx); err != nil {
		cm.log.WithError(err).Debug("end procedure before scan")
	}
	err := cm.api.SetScanParameters(ctx, cm.scan)
	if err == nil {
		err = cm.api.Discover(ctx, bgapi.DiscoverGeneric)
	}
	if err != nil {
		err = errors.Wrap(err, "start scan")
		cm.mu.Lock()
		if cm.state == CentralScanning {
			cm.scanErr = err
		}
		cm.mu.Unlock()
		return err
	}
	cm.log.WithField("active", cm.scan.Active).Info("scanning")
	return nil
}

// StopScan stops scanning and forgets the discovered peripherals. It does
// nothing unless the manager is scanning. The error of a failed StartScan
// is returned once the manager is back to Idle.
func (cm *CentralManager) StopScan(ctx context.Context) error {
	cm.mu.Lock()
	switch cm.state {
	case CentralDisposed:
		cm.mu.Unlock()
		return ErrDisposed
	case CentralScanning:
	default:
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.api.EndProcedure(ctx); err != nil {
		return errors.Wrap(err, "stop scan")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state != CentralScanning {
		return nil
	}
	cm.cache.purge()
	cm.setStateLocked(CentralIdle)
	err := cm.scanErr
	cm.scanErr = nil
	return err
}

// Connect connects to p and waits for the link to come up. Connecting to
// the address of the connected peripheral does nothing.
func (cm *CentralManager) Connect(ctx context.Context, p *Peripheral) error {
	cm.mu.Lock()
	switch {
	case cm.state == CentralDisposed:
		cm.mu.Unlock()
		return ErrDisposed
	case cm.state == CentralConnected && cm.periph != nil && cm.periph.addr == p.addr:
		cm.mu.Unlock()
		cm.log.WithField("peripheral", p.addr).Info("already connected")
		return nil
	case cm.state != CentralIdle:
		err := stateError("connect", cm.state)
		cm.mu.Unlock()
		return err
	}
	if err := p.connecting(); err != nil {
		cm.mu.Unlock()
		return err
	}
	at := &attempt{
		addr:    p.addr,
		statusc: make(chan *bgapi.ConnectionStatusEvt, 1),
		discc:   make(chan bgapi.ErrorCode, 1),
	}
	cm.pending = at
	cm.periph = p
	cm.setStateLocked(CentralConnecting)
	cm.mu.Unlock()

	p.log.Info("connecting")
	if _, err := cm.api.ConnectDirect(ctx, p.addr, p.typ, cm.conn); err != nil {
		cm.abortConnect(at, p)
		return errors.Wrap(err, "connect")
	}

	timer := time.NewTimer(cm.connectTimeout)
	defer timer.Stop()
	select {
	case e := <-at.statusc:
		return cm.connected(at, p, e)
	case reason := <-at.discc:
		cm.softReset()
		cm.abortConnect(at, p)
		return &bgapi.ProtocolError{Op: "connect", Code: reason}
	case <-timer.C:
		cm.softReset()
		cm.abortConnect(at, p)
		return errors.Wrapf(ErrTimeout, "connect %s", p.addr)
	case <-ctx.Done():
		cm.softReset()
		cm.abortConnect(at, p)
		return waitError(ctx, "connect")
	case <-cm.done:
		return ErrDisposed
	}
}

func (cm *CentralManager) connected(at *attempt, p *Peripheral, e *bgapi.ConnectionStatusEvt) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state != CentralConnecting || cm.pending != at {
		if cm.state == CentralDisposed {
			return ErrDisposed
		}
		return stateError("connect", cm.state)
	}
	cm.pending = nil
	p.connected(e.Connection, linkParams(e))
	cm.setStateLocked(CentralConnected)
	p.log.Info("connected")
	cm.emit(func(s *subscriber) {
		if s.connected != nil {
			s.connected(p)
		}
	})
	return nil
}

// abortConnect returns to Idle after a failed attempt.
func (cm *CentralManager) abortConnect(at *attempt, p *Peripheral) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.pending != at {
		return
	}
	cm.pending = nil
	cm.periph = nil
	p.disconnected()
	if cm.state == CentralConnecting {
		cm.setStateLocked(CentralIdle)
	}
}

// softReset stops whatever GAP procedure the radio still runs.
func (cm *CentralManager) softReset() {
	ctx, cancel := context.WithTimeout(context.Background(), cm.cancelTimeout)
	defer cancel()
	if err := cm.api.EndProcedure(ctx); err != nil {
		cm.log.WithError(err).Warn("soft reset")
	}
}

// CancelConnection disconnects the connected peripheral and waits for the
// radio to report the link down. It does nothing when idle.
func (cm *CentralManager) CancelConnection(ctx context.Context) error {
	cm.mu.Lock()
	switch cm.state {
	case CentralDisposed:
		cm.mu.Unlock()
		return ErrDisposed
	case CentralIdle:
		cm.mu.Unlock()
		cm.log.Info("no connection to cancel")
		return nil
	case CentralConnected:
	default:
		err := stateError("cancel connection", cm.state)
		cm.mu.Unlock()
		return err
	}
	p := cm.periph
	cm.mu.Unlock()

	p.mu.Lock()
	conn, done := p.conn, p.done
	p.mu.Unlock()

	if err := cm.api.Disconnect(ctx, conn); err != nil {
		return errors.Wrap(err, "cancel connection")
	}
	timer := time.NewTimer(cm.cancelTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.Wrapf(ErrTimeout, "cancel connection %s", p.addr)
	case <-ctx.Done():
		return waitError(ctx, "cancel connection")
	case <-cm.done:
		return ErrDisposed
	}
}

// Close stops scanning or drops the connection, forgets the discovered
// peripherals and releases the radio events. Radio errors are logged.
// Every later operation fails with ErrDisposed.
func (cm *CentralManager) Close() error {
	cm.closeOnce.Do(func() {
		cm.mu.Lock()
		st, p := cm.state, cm.periph
		cm.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cm.cancelTimeout)
		defer cancel()
		switch st {
		case CentralConnected:
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if err := cm.api.Disconnect(ctx, conn); err != nil {
				cm.log.WithError(err).Warn("close: disconnect")
			}
		case CentralConnecting, CentralScanning:
			if err := cm.api.EndProcedure(ctx); err != nil {
				cm.log.WithError(err).Warn("close: end procedure")
			}
		}

		cm.unsub()
		cm.mu.Lock()
		cm.periph = nil
		cm.pending = nil
		cm.cache.purge()
		cm.setStateLocked(CentralDisposed)
		cm.mu.Unlock()
		if p != nil {
			p.dispose()
		}
		close(cm.done)
		cm.notify.stop()
		cm.log.Info("closed")
	})
	return nil
}

func (cm *CentralManager) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *bgapi.GAPScanResponseEvt:
		cm.handleScanResponse(e)
	case *bgapi.ConnectionStatusEvt:
		cm.handleStatus(e)
	case *bgapi.ConnectionDisconnectedEvt:
		cm.handleDisconnected(e)
	case *bgapi.ATTClientProcedureCompletedEvt:
		cm.routeATT(e.Connection, e)
	case *bgapi.ATTClientGroupFoundEvt:
		cm.routeATT(e.Connection, e)
	case *bgapi.ATTClientAttributeValueEvt:
		cm.routeATT(e.Connection, e)
	case *bgapi.ATTClientAttributeFoundEvt:
		cm.routeATT(e.Connection, e)
	case *bgapi.ATTClientFindInformationFoundEvt:
		cm.routeATT(e.Connection, e)
	case *bgapi.ATTClientIndicatedEvt:
		cm.routeATT(e.Connection, e)
	}
}

func (cm *CentralManager) handleScanResponse(e *bgapi.GAPScanResponseEvt) {
	cm.mu.Lock()
	if cm.state != CentralScanning {
		reset := cm.state == CentralIdle && !cm.resetting
		if reset {
			cm.resetting = true
		}
		cm.mu.Unlock()
		if reset {
			cm.log.Debug("scan response while idle, ending procedure")
			go func() {
				cm.softReset()
				cm.mu.Lock()
				cm.resetting = false
				cm.mu.Unlock()
			}()
		}
		return
	}

	isScanRsp := e.PacketType == bgapi.PacketScanResponse
	s := sighting{rssi: int(e.RSSI), seen: time.Now()}
	if isScanRsp {
		s.scanRsp = e.Data
	} else {
		s.adv = e.Data
		s.connectable = e.PacketType == bgapi.PacketConnectableAdv || e.PacketType == bgapi.PacketDiscoverableAdv
	}
	ads := ParseAD(e.Data)
	if ad, ok := ads[ADCompleteName]; ok {
		s.name = string(ad.Data)
	} else if ad, ok := ads[ADShortName]; ok {
		s.name = string(ad.Data)
	}
	if old, ok := cm.cache.get(e.Sender); ok {
		s.p = old.p
	} else {
		s.p = newPeripheral(cm, e.Sender, e.AddressType)
	}
	s = cm.cache.merge(e.Sender, s, isScanRsp)
	cm.mu.Unlock()

	s.p.seen(s.name, s.rssi)
	a := NewAdvertisement(s.adv, s.scanRsp)
	a.Connectable = s.connectable
	p, rssi := s.p, s.rssi
	cm.emit(func(sub *subscriber) {
		if sub.discovered != nil {
			sub.discovered(p, a, rssi)
		}
	})
}

func (cm *CentralManager) handleStatus(e *bgapi.ConnectionStatusEvt) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	switch cm.state {
	case CentralConnecting:
		at := cm.pending
		if at == nil || at.addr != e.Address || e.Flags&bgapi.ConnFlagConnected == 0 {
			return
		}
		select {
		case at.statusc <- e:
		default:
		}
	case CentralConnected:
		p := cm.periph
		p.mu.Lock()
		mine := p.conn == e.Connection
		p.mu.Unlock()
		if mine && e.Flags&bgapi.ConnFlagParametersChange != 0 {
			lp := linkParams(e)
			p.updateParams(lp)
			p.log.Debugf("link parameters changed: %+v", lp)
		}
	}
}

func (cm *CentralManager) handleDisconnected(e *bgapi.ConnectionDisconnectedEvt) {
	cm.mu.Lock()
	switch cm.state {
	case CentralConnecting:
		if at := cm.pending; at != nil {
			select {
			case at.discc <- e.Reason:
			default:
			}
		}
		cm.mu.Unlock()
		return
	case CentralConnected:
	default:
		cm.mu.Unlock()
		return
	}
	p := cm.periph
	p.mu.Lock()
	mine := p.conn == e.Connection
	p.mu.Unlock()
	if !mine {
		cm.mu.Unlock()
		return
	}
	cm.periph = nil
	p.disconnected()
	cm.setStateLocked(CentralIdle)
	cm.mu.Unlock()

	reason := fmt.Sprintf("%s (0x%04X)", e.Reason, uint16(e.Reason))
	p.log.WithField("reason", reason).Info("disconnected")
	cm.emit(func(s *subscriber) {
		if s.disconnected != nil {
			s.disconnected(p, reason)
		}
	})
}

// routeATT hands an ATT client event to the peripheral owning conn.
func (cm *CentralManager) routeATT(conn uint8, evt interface{}) {
	cm.mu.Lock()
	p := cm.periph
	ok := cm.state == CentralConnected
	cm.mu.Unlock()
	if !ok {
		cm.log.Debugf("no connection, dropped %T", evt)
		return
	}
	p.mu.Lock()
	mine := p.conn == conn
	p.mu.Unlock()
	if !mine {
		cm.log.Debugf("connection %d unknown, dropped %T", conn, evt)
		return
	}
	p.handleATT(evt)
}

func linkParams(e *bgapi.ConnectionStatusEvt) LinkParams {
	return LinkParams{
		Interval:           bgapi.ConnInterval(e.ConnInterval),
		SupervisionTimeout: bgapi.SupervisionTimeout(e.Timeout),
		Latency:            e.Latency,
	}
}
