package bgapi

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// DefaultBaud is the BGAPI UART rate.
const DefaultBaud = 256000

// fallbackBaud is used when the OS driver has no 256000 rate. USB CDC
// dongles ignore the rate, so any supported value works for them.
const fallbackBaud = 115200

// Config describes the serial port of a BGAPI radio.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Logger      *logrus.Logger
}

// Open opens the serial port described by cfg and starts a BGAPI on it.
func Open(cfg Config) (*BGAPI, error) {
	if cfg.Port == "" {
		return nil, errors.New("bgapi: no serial port given")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	l := cfg.Logger.WithField("port", cfg.Port)

	sc := &serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
	s, err := serial.OpenPort(sc)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "baud") && cfg.Baud != fallbackBaud {
		l.WithError(err).Warnf("retrying at %d baud", fallbackBaud)
		sc.Baud = fallbackBaud
		s, err = serial.OpenPort(sc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "bgapi: open %s", cfg.Port)
	}
	l.WithField("baud", sc.Baud).Debug("serial port open")
	return New(s, l), nil
}
