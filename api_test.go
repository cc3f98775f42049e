package gatt

import (
	"context"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/sirupsen/logrus"
)

var testAddr = BDAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

const testConn = 1

// fakeAPI records the commands it receives. The on* hooks run inside the
// command and usually answer with events through emit.
type fakeAPI struct {
	mu    sync.Mutex
	h     bgapi.EventHandler
	calls []string

	discoverErr error

	onEndProcedure    func()
	onConnect         func(addr bgapi.Addr)
	onDisconnect      func(conn uint8)
	onReadByGroupType func(start, end uint16, uuid []byte)
	onReadByType      func(start, end uint16, uuid []byte)
	onReadByHandle    func(handle uint16)
	onWrite           func(handle uint16, data []byte)
	onWriteCommand    func(handle uint16, data []byte)
	onConfirm         func()
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeAPI) emit(evt interface{}) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	if h != nil {
		h.HandleEvent(evt)
	}
}

func (f *fakeAPI) Subscribe(h bgapi.EventHandler) func() {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.h = nil
		f.mu.Unlock()
	}
}

func (f *fakeAPI) AddressGet(ctx context.Context) (bgapi.Addr, error) {
	f.record("address_get")
	return bgapi.Addr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, nil
}

func (f *fakeAPI) SetScanParameters(ctx context.Context, p bgapi.ScanParams) error {
	f.record("set_scan_parameters")
	return nil
}

func (f *fakeAPI) Discover(ctx context.Context, mode bgapi.DiscoverMode) error {
	f.record("discover")
	return f.discoverErr
}

func (f *fakeAPI) EndProcedure(ctx context.Context) error {
	f.record("end_procedure")
	if f.onEndProcedure != nil {
		f.onEndProcedure()
	}
	return nil
}

func (f *fakeAPI) ConnectDirect(ctx context.Context, addr bgapi.Addr, typ bgapi.AddressType, p bgapi.ConnParams) (uint8, error) {
	f.record("connect_direct")
	if f.onConnect != nil {
		f.onConnect(addr)
	}
	return testConn, nil
}

func (f *fakeAPI) Disconnect(ctx context.Context, conn uint8) error {
	f.record("disconnect")
	if f.onDisconnect != nil {
		f.onDisconnect(conn)
	}
	return nil
}

func (f *fakeAPI) GetRSSI(ctx context.Context, conn uint8) (int8, error) {
	f.record("get_rssi")
	return -61, nil
}

func (f *fakeAPI) ReadByGroupType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error {
	f.record("read_by_group_type")
	if f.onReadByGroupType != nil {
		f.onReadByGroupType(start, end, uuid)
	}
	return nil
}

func (f *fakeAPI) ReadByType(ctx context.Context, conn uint8, start, end uint16, uuid []byte) error {
	f.record("read_by_type")
	if f.onReadByType != nil {
		f.onReadByType(start, end, uuid)
	}
	return nil
}

func (f *fakeAPI) ReadByHandle(ctx context.Context, conn uint8, handle uint16) error {
	f.record("read_by_handle")
	if f.onReadByHandle != nil {
		f.onReadByHandle(handle)
	}
	return nil
}

func (f *fakeAPI) AttributeWrite(ctx context.Context, conn uint8, handle uint16, data []byte) error {
	f.record("attribute_write")
	if f.onWrite != nil {
		f.onWrite(handle, data)
	}
	return nil
}

func (f *fakeAPI) WriteCommand(ctx context.Context, conn uint8, handle uint16, data []byte) error {
	f.record("write_command")
	if f.onWriteCommand != nil {
		f.onWriteCommand(handle, data)
	}
	return nil
}

func (f *fakeAPI) IndicateConfirm(ctx context.Context, conn uint8) error {
	f.record("indicate_confirm")
	if f.onConfirm != nil {
		f.onConfirm()
	}
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

func newTestCentral(t *testing.T, opts ...Option) (*CentralManager, *fakeAPI) {
	t.Helper()
	f := &fakeAPI{}
	cm, err := NewCentralManager(f, append([]Option{WithLogger(testLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewCentralManager: %v", err)
	}
	return cm, f
}

// connectedStatus is the status event of a freshly established link.
func connectedStatus(addr bgapi.Addr) *bgapi.ConnectionStatusEvt {
	return &bgapi.ConnectionStatusEvt{
		Connection:   testConn,
		Flags:        bgapi.ConnFlagConnected | bgapi.ConnFlagCompleted,
		Address:      addr,
		ConnInterval: 8,
		Timeout:      1000,
	}
}

// newConnected returns a manager connected to the peripheral at testAddr.
func newConnected(t *testing.T, opts ...Option) (*CentralManager, *fakeAPI, *Peripheral) {
	t.Helper()
	cm, f := newTestCentral(t, opts...)
	f.onConnect = func(addr bgapi.Addr) { f.emit(connectedStatus(addr)) }
	p, err := cm.NewPeripheral(testAddr, AddressPublic)
	if err != nil {
		t.Fatalf("NewPeripheral: %v", err)
	}
	if err := cm.Connect(context.Background(), p); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return cm, f, p
}

func completed(result bgapi.ErrorCode, handle uint16) *bgapi.ATTClientProcedureCompletedEvt {
	return &bgapi.ATTClientProcedureCompletedEvt{Connection: testConn, Result: result, ChrHandle: handle}
}

func attrValue(handle uint16, typ bgapi.AttValueType, v []byte) *bgapi.ATTClientAttributeValueEvt {
	return &bgapi.ATTClientAttributeValueEvt{Connection: testConn, AttHandle: handle, Type: typ, Value: v}
}

// waitFor fails the test unless c yields within a second.
func waitFor(t *testing.T, c <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
