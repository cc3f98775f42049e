package gatt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
)

func TestStartScanTwice(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cm.StartScan(ctx); err != nil {
			t.Fatalf("StartScan #%d: %v", i, err)
		}
	}
	if got := f.count("discover"); got != 1 {
		t.Errorf("discover sent %d times, want 1", got)
	}
	if got := cm.State(); got != CentralScanning {
		t.Errorf("state: got %s want %s", got, CentralScanning)
	}
	if err := cm.StopScan(ctx); err != nil {
		t.Fatalf("StopScan: %v", err)
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
}

func TestStartScanFailure(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()
	ctx := context.Background()

	f.discoverErr = &bgapi.ProtocolError{Op: "discover", Code: bgapi.ErrCommandDisallowed}
	if err := cm.StartScan(ctx); !bgapi.IsCode(err, bgapi.ErrCommandDisallowed) {
		t.Fatalf("StartScan: got %v", err)
	}
	if got := cm.State(); got != CentralScanning {
		t.Fatalf("state after failed scan: got %s want %s", got, CentralScanning)
	}
	if err := cm.StopScan(ctx); !bgapi.IsCode(err, bgapi.ErrCommandDisallowed) {
		t.Errorf("StopScan: got %v, want the scan failure", err)
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
}

func TestStopScanWhenIdle(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()
	if err := cm.StopScan(context.Background()); err != nil {
		t.Fatalf("StopScan: %v", err)
	}
	if got := f.count("end_procedure"); got != 0 {
		t.Errorf("end_procedure sent %d times, want 0", got)
	}
}

func TestScanResponseMerge(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()

	type report struct {
		p *Peripheral
		a *Advertisement
	}
	reports := make(chan report, 2)
	cm.Handle(PeripheralDiscovered(func(p *Peripheral, a *Advertisement, rssi int) {
		reports <- report{p, a}
	}))
	if err := cm.StartScan(context.Background()); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	var adv advPacket
	adv.appendField(ADFlags, []byte{0x06})
	adv.appendField(ADCompleteName, []byte("Beacon1"))
	f.emit(&bgapi.GAPScanResponseEvt{
		RSSI:       -50,
		PacketType: bgapi.PacketConnectableAdv,
		Sender:     testAddr,
		Data:       adv.data,
	})
	f.emit(&bgapi.GAPScanResponseEvt{
		RSSI:       -52,
		PacketType: bgapi.PacketScanResponse,
		Sender:     testAddr,
		Data:       []byte{0x02, 0x01, 0x02},
	})

	var last report
	for i := 0; i < 2; i++ {
		select {
		case last = <-reports:
		case <-time.After(time.Second):
			t.Fatalf("report %d not delivered", i)
		}
	}
	if last.a.LocalName != "Beacon1" {
		t.Errorf("LocalName: got %q want %q", last.a.LocalName, "Beacon1")
	}
	if string(last.a.ScanResponse) != string([]byte{0x02, 0x01, 0x02}) {
		t.Errorf("ScanResponse: got % X", last.a.ScanResponse)
	}
	if !last.a.Connectable {
		t.Error("Connectable: got false, want the advertising packet's true")
	}
	if got := last.p.Name(); got != "Beacon1" {
		t.Errorf("Name: got %q", got)
	}
	if got := last.p.RSSI(); got != -52 {
		t.Errorf("RSSI: got %d want -52", got)
	}
	if pp := cm.Peripherals(); len(pp) != 1 || pp[0] != last.p {
		t.Errorf("Peripherals: got %v", pp)
	}
}

func TestScanResponseWhileIdle(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()

	reset := make(chan struct{}, 1)
	f.onEndProcedure = func() { reset <- struct{}{} }
	f.emit(&bgapi.GAPScanResponseEvt{PacketType: bgapi.PacketNonConnectableAdv, Sender: testAddr})
	waitFor(t, reset, "soft reset")
	if pp := cm.Peripherals(); len(pp) != 0 {
		t.Errorf("Peripherals: got %d, want none", len(pp))
	}
}

func TestConnect(t *testing.T) {
	cm, f, p := newConnected(t)
	defer cm.Close()

	if got := cm.State(); got != CentralConnected {
		t.Fatalf("state: got %s want %s", got, CentralConnected)
	}
	if got := p.State(); got != StateConnected {
		t.Fatalf("peripheral state: got %s want %s", got, StateConnected)
	}
	if cm.ConnectedPeripheral() != p {
		t.Error("ConnectedPeripheral is not the connected peripheral")
	}
	want := LinkParams{Interval: 10 * time.Millisecond, SupervisionTimeout: 10 * time.Second}
	if got := p.ConnParams(); got != want {
		t.Errorf("ConnParams: got %+v want %+v", got, want)
	}

	// Connecting again to the same peripheral does nothing.
	if err := cm.Connect(context.Background(), p); err != nil {
		t.Errorf("second Connect: %v", err)
	}
	if got := f.count("connect_direct"); got != 1 {
		t.Errorf("connect_direct sent %d times, want 1", got)
	}
}

func TestConnectSameAddressAfterScan(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()
	ctx := context.Background()
	f.onConnect = func(addr bgapi.Addr) { f.emit(connectedStatus(addr)) }

	if err := cm.StartScan(ctx); err != nil {
		t.Fatal(err)
	}
	f.emit(&bgapi.GAPScanResponseEvt{PacketType: bgapi.PacketConnectableAdv, Sender: testAddr})
	pp := cm.Peripherals()
	if len(pp) != 1 {
		t.Fatalf("Peripherals: got %d want 1", len(pp))
	}
	if err := cm.StopScan(ctx); err != nil {
		t.Fatal(err)
	}
	if err := cm.Connect(ctx, pp[0]); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The cache was purged by StopScan; the address still maps to the
	// connected peripheral.
	p, err := cm.NewPeripheral(testAddr, AddressPublic)
	if err != nil {
		t.Fatal(err)
	}
	if p != pp[0] {
		t.Error("NewPeripheral returned another peripheral for the connected address")
	}
	if err := cm.Connect(ctx, p); err != nil {
		t.Errorf("second Connect: %v", err)
	}
	if got := f.count("connect_direct"); got != 1 {
		t.Errorf("connect_direct sent %d times, want 1", got)
	}
}

func TestConnectWhileConnecting(t *testing.T) {
	cm, f := newTestCentral(t, WithConnectTimeout(5*time.Second))
	sent := make(chan struct{}, 1)
	f.onConnect = func(addr bgapi.Addr) { sent <- struct{}{} }

	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	errc := make(chan error, 1)
	go func() { errc <- cm.Connect(context.Background(), p) }()
	waitFor(t, sent, "connect_direct")

	if err := cm.Connect(context.Background(), p); errors.Cause(err) != ErrInvalidState {
		t.Errorf("Connect while connecting: got %v want %v", err, ErrInvalidState)
	}
	if got := f.count("connect_direct"); got != 1 {
		t.Errorf("connect_direct sent %d times, want 1", got)
	}

	cm.Close()
	select {
	case err := <-errc:
		if err != ErrDisposed {
			t.Errorf("pending Connect after Close: got %v want %v", err, ErrDisposed)
		}
	case <-time.After(time.Second):
		t.Fatal("pending Connect did not return after Close")
	}
}

func TestConnectWhileScanning(t *testing.T) {
	cm, _ := newTestCentral(t)
	defer cm.Close()
	ctx := context.Background()

	if err := cm.StartScan(ctx); err != nil {
		t.Fatal(err)
	}
	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	if err := cm.Connect(ctx, p); errors.Cause(err) != ErrInvalidState {
		t.Errorf("Connect while scanning: got %v want %v", err, ErrInvalidState)
	}
}

func TestConnectTimeout(t *testing.T) {
	cm, f := newTestCentral(t, WithConnectTimeout(20*time.Millisecond))
	defer cm.Close()

	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	err := cm.Connect(context.Background(), p)
	if errors.Cause(err) != ErrTimeout {
		t.Fatalf("Connect: got %v want %v", err, ErrTimeout)
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("peripheral state: got %s want %s", got, StateDisconnected)
	}
	if got := f.count("end_procedure"); got != 1 {
		t.Errorf("end_procedure sent %d times, want 1", got)
	}
}

func TestConnectFailed(t *testing.T) {
	cm, f := newTestCentral(t)
	defer cm.Close()
	f.onConnect = func(addr bgapi.Addr) {
		f.emit(&bgapi.ConnectionDisconnectedEvt{Connection: testConn, Reason: bgapi.ErrConnectionFailedToBeEstablished})
	}

	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	err := cm.Connect(context.Background(), p)
	if !bgapi.IsCode(err, bgapi.ErrConnectionFailedToBeEstablished) {
		t.Fatalf("Connect: got %v", err)
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("peripheral state: got %s want %s", got, StateDisconnected)
	}
}

func TestStatusForOtherAddress(t *testing.T) {
	cm, f := newTestCentral(t, WithConnectTimeout(20*time.Millisecond))
	defer cm.Close()
	f.onConnect = func(addr bgapi.Addr) {
		f.emit(connectedStatus(bgapi.Addr{0xFF}))
	}
	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	if err := cm.Connect(context.Background(), p); errors.Cause(err) != ErrTimeout {
		t.Errorf("Connect: got %v want %v", err, ErrTimeout)
	}
}

func TestRemoteDisconnect(t *testing.T) {
	cm, f, p := newConnected(t)
	defer cm.Close()

	reasons := make(chan string, 1)
	cm.Handle(PeripheralDisconnected(func(dp *Peripheral, reason string) {
		if dp == p {
			reasons <- reason
		}
	}))
	f.emit(&bgapi.ConnectionDisconnectedEvt{Connection: testConn, Reason: bgapi.ErrRemoteUserTerminatedConnection})

	select {
	case r := <-reasons:
		if !strings.HasSuffix(r, "(0x0213)") {
			t.Errorf("reason: got %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("PeripheralDisconnected not called")
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("peripheral state: got %s want %s", got, StateDisconnected)
	}
	if cm.ConnectedPeripheral() != nil {
		t.Error("ConnectedPeripheral after disconnect")
	}
}

func TestCancelConnection(t *testing.T) {
	cm, f, p := newConnected(t)
	defer cm.Close()
	f.onDisconnect = func(conn uint8) {
		f.emit(&bgapi.ConnectionDisconnectedEvt{Connection: conn, Reason: bgapi.ErrConnectionTerminatedByLocalHost})
	}

	if err := cm.CancelConnection(context.Background()); err != nil {
		t.Fatalf("CancelConnection: %v", err)
	}
	if got := cm.State(); got != CentralIdle {
		t.Errorf("state: got %s want %s", got, CentralIdle)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("peripheral state: got %s want %s", got, StateDisconnected)
	}
	// Idle: nothing to cancel.
	if err := cm.CancelConnection(context.Background()); err != nil {
		t.Errorf("CancelConnection while idle: %v", err)
	}
}

func TestCancelConnectionTimeout(t *testing.T) {
	cm, _, _ := newConnected(t, WithCancelTimeout(20*time.Millisecond))
	defer cm.Close()
	if err := cm.CancelConnection(context.Background()); errors.Cause(err) != ErrTimeout {
		t.Errorf("CancelConnection: got %v want %v", err, ErrTimeout)
	}
}

func TestClose(t *testing.T) {
	cm, f, p := newConnected(t)
	ctx := context.Background()

	if err := cm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := cm.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := f.count("disconnect"); got != 1 {
		t.Errorf("disconnect sent %d times, want 1", got)
	}
	if got := cm.State(); got != CentralDisposed {
		t.Errorf("state: got %s want %s", got, CentralDisposed)
	}
	if got := p.State(); got != StateDisposed {
		t.Errorf("peripheral state: got %s want %s", got, StateDisposed)
	}

	_, addrErr := cm.Address(ctx)
	_, periphErr := cm.NewPeripheral(testAddr, AddressPublic)
	_, svcErr := p.DiscoverServices(ctx)
	for name, err := range map[string]error{
		"StartScan":        cm.StartScan(ctx),
		"StopScan":         cm.StopScan(ctx),
		"Connect":          cm.Connect(ctx, p),
		"CancelConnection": cm.CancelConnection(ctx),
		"Address":          addrErr,
		"NewPeripheral":    periphErr,
		"DiscoverServices": svcErr,
	} {
		if errors.Cause(err) != ErrDisposed {
			t.Errorf("%s after Close: got %v want %v", name, err, ErrDisposed)
		}
	}
}

func TestStateChanged(t *testing.T) {
	cm, f := newTestCentral(t)
	f.onConnect = func(addr bgapi.Addr) { f.emit(connectedStatus(addr)) }

	done := make(chan struct{})
	var got []CentralState
	cm.Handle(StateChanged(func(s CentralState) {
		got = append(got, s)
		if s == CentralDisposed {
			close(done)
		}
	}))

	p, _ := cm.NewPeripheral(testAddr, AddressPublic)
	if err := cm.Connect(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	cm.Close()
	waitFor(t, done, "Disposed")

	want := []CentralState{CentralConnecting, CentralConnected, CentralDisposed}
	if len(got) != len(want) {
		t.Fatalf("states: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states: got %v want %v", got, want)
			break
		}
	}
}

func TestAddress(t *testing.T) {
	cm, _ := newTestCentral(t)
	defer cm.Close()
	a, err := cm.Address(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := a.String(), "FF:EE:DD:CC:BB:AA"; got != want {
		t.Errorf("Address: got %s want %s", got, want)
	}
}
