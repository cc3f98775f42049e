package gatt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type serviceState int

const (
	serviceIdle serviceState = iota
	serviceDiscovering
	serviceDisposed
)

// A Service is a primary service of a connected peripheral.
type Service struct {
	p     *Peripheral
	uuid  UUID
	start uint16
	end   uint16
	log   *logrus.Entry

	mu    sync.Mutex
	state serviceState
	chars []*Characteristic
}

func newService(p *Peripheral, u UUID, start, end uint16) *Service {
	return &Service{
		p:     p,
		uuid:  u,
		start: start,
		end:   end,
		log:   p.log.WithField("service", u),
	}
}

func (s *Service) String() string {
	if n := s.uuid.Name(); n != "" {
		return fmt.Sprintf("%s (%s)", s.uuid, n)
	}
	return s.uuid.String()
}

// UUID returns the service type.
func (s *Service) UUID() UUID { return s.uuid }

// Name returns the assigned name of the service type, or "".
func (s *Service) Name() string { return s.uuid.Name() }

// Handles returns the attribute handle range of the service.
func (s *Service) Handles() (start, end uint16) { return s.start, s.end }

// Peripheral returns the peripheral offering the service.
func (s *Service) Peripheral() *Peripheral { return s.p }

// Characteristics returns the characteristics found by the last
// DiscoverCharacteristics, by ascending declaration handle.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Characteristic(nil), s.chars...)
}

// DiscoverCharacteristics finds the characteristics of the service and
// their client configuration descriptors. When uu is not empty only
// characteristics with a UUID in uu are returned; all of them are kept.
func (s *Service) DiscoverCharacteristics(ctx context.Context, uu ...UUID) ([]*Characteristic, error) {
	s.mu.Lock()
	switch s.state {
	case serviceDisposed:
		s.mu.Unlock()
		return nil, ErrDisposed
	case serviceDiscovering:
		s.mu.Unlock()
		return nil, errors.Wrap(ErrBusy, "discover characteristics")
	}
	s.state = serviceDiscovering
	old := s.chars
	s.chars = nil
	s.mu.Unlock()
	closeCharacteristics(old)

	defer func() {
		s.mu.Lock()
		if s.state == serviceDiscovering {
			s.state = serviceIdle
		}
		s.mu.Unlock()
	}()

	half := s.p.cm.charDiscoveryTimeout / 2

	var cc []*Characteristic
	err := s.readByType(ctx, attrCharacteristicUUID, half, func(e *bgapi.ATTClientAttributeValueEvt) error {
		c, err := newCharacteristic(s, e.AttHandle, e.Value)
		if err != nil {
			return err
		}
		s.log.Debugf("found characteristic %s at 0x%04X, value 0x%04X, %s", c.uuid, c.declHandle, c.valueHandle, c.props)
		cc = append(cc, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(cc) == 0 {
		return nil, nil
	}

	var cfgs []uint16
	err = s.readByType(ctx, attrClientCharacteristicConfigUUID, half, func(e *bgapi.ATTClientAttributeValueEvt) error {
		cfgs = append(cfgs, e.AttHandle)
		return nil
	})
	if err != nil {
		return nil, err
	}
	assignConfigHandles(cc, cfgs)

	s.mu.Lock()
	if s.state == serviceDisposed {
		s.mu.Unlock()
		closeCharacteristics(cc)
		return nil, ErrDisposed
	}
	s.chars = cc
	s.mu.Unlock()

	var found []*Characteristic
	for _, c := range cc {
		if containsUUID(uu, c.uuid) {
			found = append(found, c)
		}
	}
	return found, nil
}

// readByType runs one read by type procedure over the service's handle
// range and passes each attribute found to f. Attribute Not Found ends the
// procedure like success does.
func (s *Service) readByType(ctx context.Context, typ UUID, timeout time.Duration, f func(*bgapi.ATTClientAttributeValueEvt) error) error {
	op := fmt.Sprintf("read by type %s", typ)
	pr, conn, err := s.p.begin(ctx, op)
	if err != nil {
		return err
	}
	defer s.p.end(pr)

	if err := s.p.api.ReadByType(ctx, conn, s.start, s.end, typ.b); err != nil {
		return errors.Wrap(err, op)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		evt, err := pr.next(ctx, timer.C, op)
		if err != nil {
			return err
		}
		switch e := evt.(type) {
		case *bgapi.ATTClientAttributeValueEvt:
			if err := f(e); err != nil {
				return errors.Wrap(err, op)
			}
		case *bgapi.ATTClientProcedureCompletedEvt:
			if e.Result == 0 || e.Result == bgapi.ErrAttributeNotFound {
				return nil
			}
			return &bgapi.ProtocolError{Op: op, Code: e.Result}
		}
	}
}

// assignConfigHandles gives each client configuration handle to the
// characteristic whose declaration precedes it: the lower end of the first
// pair of adjacent declarations bracketing it, or else the last one.
func assignConfigHandles(cc []*Characteristic, cfgs []uint16) {
	if len(cc) == 1 && len(cfgs) == 1 {
		cc[0].configHandle = cfgs[0]
		return
	}
	if len(cc) == 0 || len(cfgs) == 0 {
		return
	}
	sort.Slice(cc, func(i, j int) bool { return cc[i].declHandle < cc[j].declHandle })
	for _, cfg := range cfgs {
		owner := cc[len(cc)-1]
		for i := 1; i < len(cc); i++ {
			if cfg > cc[i-1].declHandle && cfg < cc[i].declHandle {
				owner = cc[i-1]
				break
			}
		}
		owner.configHandle = cfg
	}
}

// close tears down the characteristics, then the service.
func (s *Service) close() {
	s.mu.Lock()
	if s.state == serviceDisposed {
		s.mu.Unlock()
		return
	}
	cc := s.chars
	s.chars = nil
	s.mu.Unlock()

	closeCharacteristics(cc)

	s.mu.Lock()
	s.state = serviceDisposed
	s.mu.Unlock()
}

func closeCharacteristics(cc []*Characteristic) {
	for _, c := range cc {
		c.close()
	}
}
