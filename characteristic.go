package gatt

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type charState int

const (
	charIdle charState = iota
	charReading
	charWriting
	charDisposed
)

func (s charState) String() string {
	return [...]string{"idle", "reading", "writing", "disposed"}[s]
}

type pushHandler struct {
	f          func([]byte)
	indication bool
}

// A Characteristic is a characteristic of a discovered service.
type Characteristic struct {
	svc          *Service
	p            *Peripheral
	uuid         UUID
	props        Property
	declHandle   uint16
	valueHandle  uint16
	configHandle uint16 // 0 when no client configuration was found
	log          *logrus.Entry

	mu         sync.Mutex
	state      charState
	notifying  bool
	indicating bool
	handlers   []*pushHandler
}

// newCharacteristic parses a characteristic declaration value:
// properties, value handle, then the UUID.
func newCharacteristic(s *Service, declHandle uint16, b []byte) (*Characteristic, error) {
	if len(b) < 4 {
		return nil, errors.Errorf("characteristic declaration at 0x%04X: %d bytes", declHandle, len(b))
	}
	u := uuidFromWire(b[3:])
	return &Characteristic{
		svc:         s,
		p:           s.p,
		uuid:        u,
		props:       Property(b[0]),
		declHandle:  declHandle,
		valueHandle: binary.LittleEndian.Uint16(b[1:3]),
		log:         s.log.WithField("char", u),
	}, nil
}

func (c *Characteristic) String() string {
	return fmt.Sprintf("uuid=%s handle=0x%04X %s", c.uuid, c.valueHandle, c.props)
}

// UUID returns the characteristic type.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Name returns the assigned name of the characteristic type, or "".
func (c *Characteristic) Name() string { return c.uuid.Name() }

// Properties returns the declared properties.
func (c *Characteristic) Properties() Property { return c.props }

// Service returns the service holding the characteristic.
func (c *Characteristic) Service() *Service { return c.svc }

// Handle returns the value handle.
func (c *Characteristic) Handle() uint16 { return c.valueHandle }

// ConfigHandle returns the client characteristic configuration handle,
// or 0 when there is none.
func (c *Characteristic) ConfigHandle() uint16 { return c.configHandle }

// Notifying reports whether notifications are enabled.
func (c *Characteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// Indicating reports whether indications are enabled.
func (c *Characteristic) Indicating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicating
}

// acquire checks that an operation may start and marks the
// characteristic busy.
func (c *Characteristic) acquire(op string, need Property, handle uint16, st charState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == charDisposed {
		return ErrDisposed
	}
	if _, err := c.p.link(op); err != nil {
		return err
	}
	if need != 0 && c.props&need == 0 {
		return errors.Wrapf(ErrNotSupported, "%s: properties %s", op, c.props)
	}
	if handle == 0 {
		return errors.Wrapf(ErrNotSupported, "%s: no handle", op)
	}
	if c.state != charIdle {
		return errors.Wrapf(ErrBusy, "%s: %s", op, c.state)
	}
	c.state = st
	return nil
}

func (c *Characteristic) release() {
	c.mu.Lock()
	if c.state != charDisposed {
		c.state = charIdle
	}
	c.mu.Unlock()
}

// Read reads the characteristic value.
func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	const op = "read"
	if err := c.acquire(op, CharRead, c.valueHandle, charReading); err != nil {
		return nil, err
	}
	defer c.release()

	pr, conn, err := c.p.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer c.p.end(pr)

	if err := c.p.api.ReadByHandle(ctx, conn, c.valueHandle); err != nil {
		return nil, errors.Wrap(err, op)
	}
	timer := time.NewTimer(c.p.cm.readTimeout)
	defer timer.Stop()
	for {
		evt, err := pr.next(ctx, timer.C, op)
		if err != nil {
			return nil, err
		}
		switch e := evt.(type) {
		case *bgapi.ATTClientAttributeValueEvt:
			if e.AttHandle != c.valueHandle {
				return nil, errors.Wrapf(ErrHandleMismatch, "read 0x%04X: got 0x%04X", c.valueHandle, e.AttHandle)
			}
			c.log.Debugf("read [ % X ]", e.Value)
			return e.Value, nil
		case *bgapi.ATTClientProcedureCompletedEvt:
			if e.Result != 0 {
				return nil, &bgapi.ProtocolError{Op: op, Code: e.Result}
			}
			return nil, errors.Errorf("read 0x%04X: completed without a value", c.valueHandle)
		}
	}
}

// Write writes b to the characteristic and waits for the peer to
// acknowledge it.
func (c *Characteristic) Write(ctx context.Context, b []byte) error {
	const op = "write"
	if err := c.acquire(op, CharWrite, c.valueHandle, charWriting); err != nil {
		return err
	}
	defer c.release()
	return c.write(ctx, op, c.valueHandle, b)
}

// WriteWithoutResponse writes b with a write command. The peer does not
// acknowledge it.
func (c *Characteristic) WriteWithoutResponse(ctx context.Context, b []byte) error {
	const op = "write without response"
	if err := c.acquire(op, CharWriteNR, c.valueHandle, charWriting); err != nil {
		return err
	}
	defer c.release()
	conn, err := c.p.link(op)
	if err != nil {
		return err
	}
	return errors.Wrap(c.p.api.WriteCommand(ctx, conn, c.valueHandle, b), op)
}

func (c *Characteristic) write(ctx context.Context, op string, handle uint16, b []byte) error {
	pr, conn, err := c.p.begin(ctx, op)
	if err != nil {
		return err
	}
	defer c.p.end(pr)

	c.log.Debugf("write 0x%04X [ % X ]", handle, b)
	if err := c.p.api.AttributeWrite(ctx, conn, handle, b); err != nil {
		return errors.Wrap(err, op)
	}
	timer := time.NewTimer(c.p.cm.writeTimeout)
	defer timer.Stop()
	for {
		evt, err := pr.next(ctx, timer.C, op)
		if err != nil {
			return err
		}
		e, ok := evt.(*bgapi.ATTClientProcedureCompletedEvt)
		if !ok {
			continue
		}
		if e.Result != 0 {
			return &bgapi.ProtocolError{Op: op, Code: e.Result}
		}
		if e.ChrHandle != handle {
			return errors.Wrapf(ErrHandleMismatch, "%s 0x%04X: got 0x%04X", op, handle, e.ChrHandle)
		}
		return nil
	}
}

// EnableNotifications asks the peer to notify value changes.
func (c *Characteristic) EnableNotifications(ctx context.Context) error {
	return c.configure(ctx, "enable notifications", cccNotify, &c.notifying, true)
}

// DisableNotifications stops notifications.
func (c *Characteristic) DisableNotifications(ctx context.Context) error {
	return c.configure(ctx, "disable notifications", cccDisable, &c.notifying, false)
}

// EnableIndications asks the peer to indicate value changes.
func (c *Characteristic) EnableIndications(ctx context.Context) error {
	return c.configure(ctx, "enable indications", cccIndicate, &c.indicating, true)
}

// DisableIndications stops indications.
func (c *Characteristic) DisableIndications(ctx context.Context) error {
	return c.configure(ctx, "disable indications", cccDisable, &c.indicating, false)
}

// configure writes v to the client configuration descriptor and sets the
// gate to on once the peer acknowledged it.
func (c *Characteristic) configure(ctx context.Context, op string, v uint16, gate *bool, on bool) error {
	if err := c.acquire(op, 0, c.configHandle, charWriting); err != nil {
		return err
	}
	defer c.release()
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	if err := c.write(ctx, op, c.configHandle, b); err != nil {
		return err
	}
	c.mu.Lock()
	*gate = on
	c.mu.Unlock()
	return nil
}

// HandleNotification registers f for notified values. The returned func
// removes it.
func (c *Characteristic) HandleNotification(f func([]byte)) (cancel func()) {
	return c.handle(&pushHandler{f: f})
}

// HandleIndication registers f for indicated values. The returned func
// removes it.
func (c *Characteristic) HandleIndication(f func([]byte)) (cancel func()) {
	return c.handle(&pushHandler{f: f, indication: true})
}

func (c *Characteristic) handle(h *pushHandler) func() {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, x := range c.handlers {
				if x == h {
					c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// push delivers a notified or indicated value when its gate is open.
// Indications that need a confirmation are confirmed after delivery.
func (c *Characteristic) push(v []byte, typ bgapi.AttValueType) {
	indication := typ != bgapi.AttValueNotify
	c.mu.Lock()
	open := c.notifying
	if indication {
		open = c.indicating
	}
	var hh []*pushHandler
	if open && c.state != charDisposed {
		for _, h := range c.handlers {
			if h.indication == indication {
				hh = append(hh, h)
			}
		}
	} else {
		c.log.Debugf("gate closed, dropped %d bytes", len(v))
	}
	c.mu.Unlock()

	confirm := typ == bgapi.AttValueIndicateRspReq
	if len(hh) == 0 && !confirm {
		return
	}
	c.p.cm.notify.post(func() {
		for _, h := range hh {
			h.f(v)
		}
		if confirm {
			c.p.confirm()
		}
	})
}

// close drops the handlers and closes the gates.
func (c *Characteristic) close() {
	c.mu.Lock()
	c.state = charDisposed
	c.notifying = false
	c.indicating = false
	c.handlers = nil
	c.mu.Unlock()
}
