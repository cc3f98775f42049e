package gatt

import (
	"time"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Option configures a CentralManager.
type Option func(*CentralManager) error

// ConnParams are the link parameters requested when connecting.
type ConnParams = bgapi.ConnParams

// ScanParams configures the GAP scan procedure.
type ScanParams = bgapi.ScanParams

// Option sets the options specified.
// It stops at the first failing option.
func (cm *CentralManager) Option(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(cm); err != nil {
			return err
		}
	}
	return nil
}

// WithScanParams overrides the passive 125/125 ms scan.
func WithScanParams(active bool, interval, window time.Duration) Option {
	return func(cm *CentralManager) error {
		if window > interval {
			return errors.Errorf("gatt: scan window %v exceeds interval %v", window, interval)
		}
		cm.scan = bgapi.ScanParams{Active: active, Interval: interval, Window: window}
		return nil
	}
}

// WithConnParams overrides bgapi.DefaultConnParams.
func WithConnParams(p ConnParams) Option {
	return func(cm *CentralManager) error {
		if err := p.Validate(); err != nil {
			return err
		}
		cm.conn = p
		return nil
	}
}

// WithConnectTimeout bounds the wait for the connection status event.
func WithConnectTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.connectTimeout = d; return nil }
}

// WithCancelTimeout bounds the wait for the disconnected event.
func WithCancelTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.cancelTimeout = d; return nil }
}

// WithDiscoveryTimeout bounds service discovery.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.discoveryTimeout = d; return nil }
}

// WithCharDiscoveryTimeout bounds both passes of characteristic discovery together.
func WithCharDiscoveryTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.charDiscoveryTimeout = d; return nil }
}

// WithReadTimeout bounds characteristic reads.
func WithReadTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.readTimeout = d; return nil }
}

// WithWriteTimeout bounds characteristic writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(cm *CentralManager) error { cm.writeTimeout = d; return nil }
}

// WithCacheSize sets how many discovered peripherals are remembered.
func WithCacheSize(n int) Option {
	return func(cm *CentralManager) error {
		if n <= 0 {
			return errors.Errorf("gatt: cache size %d", n)
		}
		cm.cacheSize = n
		return nil
	}
}

// WithLogger sets the logger; the default is logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(cm *CentralManager) error {
		cm.log = l.WithField("role", "central")
		return nil
	}
}
