package bgapi

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type fakePort struct {
	readc  chan []byte
	writec chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		readc:  make(chan []byte),
		writec: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakePort) Read(b []byte) (int, error) {
	select {
	case r := <-f.readc:
		return copy(b, r), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakePort) Write(b []byte) (int, error) {
	select {
	case f.writec <- append([]byte(nil), b...):
		return len(b), nil
	case <-f.closed:
		return 0, io.ErrClosedPipe
	}
}

func (f *fakePort) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePort) expectWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-f.writec:
		return b
	case <-time.After(time.Second):
		t.Fatal("no command written")
	}
	return nil
}

func (f *fakePort) feed(b ...byte) { f.readc <- b }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = ioutil.Discard
	return logrus.NewEntry(l)
}

func newTestAPI() (*BGAPI, *fakePort) {
	p := newFakePort()
	return New(p, testLogger()), p
}

func TestCommandBytes(t *testing.T) {
	addr := Addr{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	cases := []struct {
		cp   cmdParam
		want string
	}{
		{cp: systemReset{}, want: "0001000000"},
		{cp: systemHello{}, want: "00000001"},
		{cp: systemAddressGet{}, want: "00000002"},
		{cp: systemRegRead{address: 0x780E}, want: "000200040e78"},
		{cp: systemRegWrite{address: 0x1234, value: 0x56}, want: "00030003341256"},
		{cp: connectionDisconnect{connection: 2}, want: "0001030002"},
		{
			cp:   attclientRange{command: 1, connection: 1, start: 0x0001, end: 0xFFFF, uuid: []byte{0x00, 0x28}},
			want: "0008040101" + "0100ffff020028",
		},
		{
			cp:   attclientRange{command: 2, connection: 1, start: 0x0010, end: 0x0020, uuid: []byte{0x03, 0x28}},
			want: "0008040201" + "10002000020328",
		},
		{cp: attclientFindInformation{connection: 1, start: 1, end: 5}, want: "000504030101000500"},
		{cp: attclientHandle{command: 4, connection: 1, handle: 0x0025}, want: "00030404012500"},
		{
			cp:   attclientWrite{command: 5, connection: 1, handle: 0x0026, data: []byte{0x01, 0x00}},
			want: "00060405012600020100",
		},
		{cp: attclientIndicateConfirm{connection: 3}, want: "0001040703"},
		{cp: gapSetMode{discover: 2, connect: 2}, want: "000206010202"},
		{cp: gapDiscover{mode: DiscoverObservation}, want: "0001060202"},
		{cp: gapEndProcedure{}, want: "00000604"},
		{cp: gapSetScanParameters{interval: 200, window: 200, active: true}, want: "00050607c800c80001"},
		{
			cp:   gapConnectDirect{address: addr, addrType: AddressRandom, intervalMin: 8, intervalMax: 12, timeout: 1000, latency: 0},
			want: "000f0603" + "ffeeddccbbaa" + "01" + "0800" + "0c00" + "e803" + "0000",
		},
	}
	for _, tt := range cases {
		if got := fmt.Sprintf("%x", marshalCmd(tt.cp)); got != tt.want {
			t.Errorf("marshal(%T): got %s want %s", tt.cp, got, tt.want)
		}
	}
}

func TestHello(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	errc := make(chan error, 1)
	go func() { errc <- a.Hello(context.Background()) }()

	if got, want := fmt.Sprintf("%x", p.expectWrite(t)), "00000001"; got != want {
		t.Fatalf("Hello wrote %s want %s", got, want)
	}
	p.feed(0x00, 0x00, 0x00, 0x01)
	if err := <-errc; err != nil {
		t.Errorf("Hello: %v", err)
	}
}

func TestConnectDirectRoundTrip(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	type result struct {
		conn uint8
		err  error
	}
	resc := make(chan result, 1)
	addr := Addr{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	go func() {
		conn, err := a.ConnectDirect(context.Background(), addr, AddressPublic, DefaultConnParams)
		resc <- result{conn, err}
	}()

	want := "000f0603ffeeddccbbaa0008000c00e8030000"
	if got := fmt.Sprintf("%x", p.expectWrite(t)); got != want {
		t.Fatalf("ConnectDirect wrote %s want %s", got, want)
	}
	// response split over two reads
	p.feed(0x00, 0x03)
	p.feed(0x06, 0x03, 0x00, 0x00, 0x05)
	r := <-resc
	if r.err != nil || r.conn != 5 {
		t.Errorf("ConnectDirect: got conn %d, %v want 5, nil", r.conn, r.err)
	}
}

func TestConnectDirectInvalidParams(t *testing.T) {
	a, _ := newTestAPI()
	defer a.Close()

	cases := []ConnParams{
		{IntervalMin: 5 * time.Millisecond, IntervalMax: 10 * time.Millisecond, SupervisionTimeout: time.Second},
		{IntervalMin: 20 * time.Millisecond, IntervalMax: 10 * time.Millisecond, SupervisionTimeout: time.Second},
		{IntervalMin: 10 * time.Millisecond, IntervalMax: 100 * time.Millisecond, SupervisionTimeout: 400 * time.Millisecond, Latency: 1},
	}
	for _, cp := range cases {
		if _, err := a.ConnectDirect(context.Background(), Addr{}, AddressPublic, cp); errors.Cause(err) != ErrInvalidConnParams {
			t.Errorf("ConnectDirect(%+v): got %v want ErrInvalidConnParams", cp, err)
		}
	}
}

func TestCommandTimeout(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	ctx := WithTimeout(context.Background(), 20*time.Millisecond)
	errc := make(chan error, 1)
	go func() { errc <- a.Hello(ctx) }()
	p.expectWrite(t)

	if err := <-errc; !errors.Is(err, ErrTimeout) {
		t.Fatalf("Hello: got %v want ErrTimeout", err)
	}

	// A late response to the timed out command is ignored.
	p.feed(0x00, 0x00, 0x00, 0x01)

	go func() { errc <- a.Hello(context.Background()) }()
	p.expectWrite(t)
	p.feed(0x00, 0x00, 0x00, 0x01)
	if err := <-errc; err != nil {
		t.Errorf("Hello after timeout: %v", err)
	}
}

func TestResultCodes(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		rsp  []byte
		want ErrorCode
	}{
		{"end procedure wrong state", func() error { return a.EndProcedure(ctx) }, []byte{0x00, 0x02, 0x06, 0x04, 0x81, 0x01}, ErrNone},
		{"scan parameters wrong state", func() error { return a.SetScanParameters(ctx, DefaultScanParams) }, []byte{0x00, 0x02, 0x06, 0x07, 0x81, 0x01}, ErrNone},
		{"discover wrong state", func() error { return a.Discover(ctx, DiscoverObservation) }, []byte{0x00, 0x02, 0x06, 0x02, 0x81, 0x01}, ErrDeviceInWrongState},
		{"read by type not connected", func() error { return a.ReadByType(ctx, 1, 1, 0xFFFF, []byte{0x03, 0x28}) }, []byte{0x00, 0x03, 0x04, 0x02, 0x01, 0x86, 0x01}, ErrNotConnected},
		{"attribute write ok", func() error { return a.AttributeWrite(ctx, 1, 0x26, []byte{1, 0}) }, []byte{0x00, 0x03, 0x04, 0x05, 0x01, 0x00, 0x00}, ErrNone},
		{"disconnect ok", func() error { return a.Disconnect(ctx, 1) }, []byte{0x00, 0x03, 0x03, 0x00, 0x01, 0x00, 0x00}, ErrNone},
	}
	for _, tt := range cases {
		errc := make(chan error, 1)
		go func(call func() error) { errc <- call() }(tt.call)
		p.expectWrite(t)
		p.feed(tt.rsp...)
		err := <-errc
		if tt.want == ErrNone {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !IsCode(err, tt.want) {
			t.Errorf("%s: got %v want %s", tt.name, err, tt.want)
		}
	}
}

func TestCommandsAreSerialized(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	errc := make(chan error, 2)
	go func() { errc <- a.Hello(context.Background()) }()
	p.expectWrite(t)
	go func() { errc <- a.Hello(context.Background()) }()

	select {
	case b := <-p.writec:
		t.Fatalf("second command %x written while first outstanding", b)
	case <-time.After(50 * time.Millisecond):
	}

	p.feed(0x00, 0x00, 0x00, 0x01)
	p.expectWrite(t)
	p.feed(0x00, 0x00, 0x00, 0x01)
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Errorf("Hello #%d: %v", i, err)
		}
	}
}

func TestMismatchedResponseDropped(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	errc := make(chan error, 1)
	go func() { errc <- a.Hello(context.Background()) }()
	p.expectWrite(t)

	// address_get response does not answer hello
	p.feed(0x00, 0x06, 0x00, 0x02, 1, 2, 3, 4, 5, 6)
	select {
	case err := <-errc:
		t.Fatalf("Hello completed by mismatched response: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	p.feed(0x00, 0x00, 0x00, 0x01)
	if err := <-errc; err != nil {
		t.Errorf("Hello: %v", err)
	}
}

func TestEventsForwarded(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	evtc := make(chan interface{}, 4)
	cancel := a.Subscribe(HandlerFunc(func(evt interface{}) { evtc <- evt }))

	// unsolicited event with nothing pending
	p.feed(0x80, 0x03, 0x03, 0x04, 0x01, 0x13, 0x02)
	select {
	case evt := <-evtc:
		d, ok := evt.(*ConnectionDisconnectedEvt)
		if !ok || d.Connection != 1 || d.Reason != ErrRemoteUserTerminatedConnection {
			t.Errorf("got %#v want disconnected(1, 0x0213)", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	// events interleaved with a pending command do not complete it
	errc := make(chan error, 1)
	go func() { errc <- a.Hello(context.Background()) }()
	p.expectWrite(t)
	p.feed(0x80, 0x03, 0x03, 0x04, 0x02, 0x16, 0x02, 0x00, 0x00, 0x00, 0x01)
	if err := <-errc; err != nil {
		t.Errorf("Hello: %v", err)
	}
	if evt := <-evtc; evt.(*ConnectionDisconnectedEvt).Connection != 2 {
		t.Errorf("got %#v want disconnected(2)", evt)
	}

	cancel()
	p.feed(0x80, 0x03, 0x03, 0x04, 0x03, 0x16, 0x02)
	// a following command round trip guarantees the event was parsed
	go func() { errc <- a.Hello(context.Background()) }()
	p.expectWrite(t)
	p.feed(0x00, 0x00, 0x00, 0x01)
	<-errc
	select {
	case evt := <-evtc:
		t.Errorf("event %#v delivered after cancel", evt)
	default:
	}
}

func TestClosed(t *testing.T) {
	a, _ := newTestAPI()
	a.Close()
	if err := a.Hello(context.Background()); err != ErrClosed {
		t.Errorf("Hello after Close: got %v want ErrClosed", err)
	}
}

func TestTransportGone(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()
	p.Close()

	select {
	case err := <-a.Err():
		if errors.Cause(err) != io.EOF {
			t.Errorf("Err: got %v want %v", err, io.EOF)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("closed transport not reported")
	}
}

func TestReadSerialNumber(t *testing.T) {
	a, p := newTestAPI()
	defer a.Close()

	type result struct {
		b   []byte
		err error
	}
	resc := make(chan result, 1)
	go func() {
		b, err := a.ReadSerialNumber(context.Background())
		resc <- result{b, err}
	}()
	for r := uint16(0x780E); r <= 0x7813; r++ {
		got := p.expectWrite(t)
		if want := fmt.Sprintf("00020004%02x%02x", byte(r), byte(r>>8)); fmt.Sprintf("%x", got) != want {
			t.Fatalf("reg_read wrote %x want %s", got, want)
		}
		p.feed(0x00, 0x03, 0x00, 0x04, byte(r), byte(r>>8), byte(r-0x780E+1))
	}
	res := <-resc
	if got, want := fmt.Sprintf("%x", res.b), "060504030201"; res.err != nil || got != want {
		t.Errorf("ReadSerialNumber: got %s, %v want %s", got, res.err, want)
	}
}
