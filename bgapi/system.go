package bgapi

import (
	"context"
	"strconv"

	"github.com/blang/semver"
	"github.com/pkg/errors"
)

// Info describes the radio firmware, as reported by get_info and the boot
// event.
type Info struct {
	Major           uint16
	Minor           uint16
	Patch           uint16
	Build           uint16
	LLVersion       uint16
	ProtocolVersion uint8
	HW              uint8
}

// Version returns the firmware version with the build number as metadata.
func (i Info) Version() semver.Version {
	return semver.Version{
		Major: uint64(i.Major),
		Minor: uint64(i.Minor),
		Patch: uint64(i.Patch),
		Build: []string{strconv.Itoa(int(i.Build))},
	}
}

// Register ranges holding the factory serial number and license key.
const (
	regSerialFirst  = 0x780E
	regSerialLast   = 0x7813
	regLicenseFirst = 0xFFC7
	regLicenseLast  = 0xFFE6
)

func (a *BGAPI) readRegisters(ctx context.Context, first, last uint16) ([]byte, error) {
	b := make([]byte, 0, int(last-first)+1)
	for r := first; r <= last; r++ {
		v, err := a.RegRead(ctx, r)
		if err != nil {
			return nil, errors.Wrapf(err, "register 0x%04X", r)
		}
		b = append(b, v)
	}
	return b, nil
}

// ReadSerialNumber returns the radio's factory serial number, most
// significant byte first.
func (a *BGAPI) ReadSerialNumber(ctx context.Context) ([]byte, error) {
	b, err := a.readRegisters(ctx, regSerialFirst, regSerialLast)
	if err != nil {
		return nil, errors.Wrap(err, "read serial number")
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

// ReadLicenseKey returns the 32-byte license key stored on the radio.
func (a *BGAPI) ReadLicenseKey(ctx context.Context) ([]byte, error) {
	b, err := a.readRegisters(ctx, regLicenseFirst, regLicenseLast)
	if err != nil {
		return nil, errors.Wrap(err, "read license key")
	}
	return b, nil
}
