package gatt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Apple company ID 0x004C in wire order, then the iBeacon type and length.
var ibeaconPrefix = []byte{0x4C, 0x00, 0x02, 0x15}

// ibeaconLen is the manufacturer data length of an iBeacon structure.
const ibeaconLen = 25

// An IBeacon is an Apple iBeacon advertisement.
type IBeacon struct {
	UUID          uuid.UUID
	Major         uint16
	Minor         uint16
	MeasuredPower int8
	Address       BDAddr
}

func (b *IBeacon) String() string {
	return fmt.Sprintf("%s uuid=%s major=%d minor=%d power=%d", b.Address, b.UUID, b.Major, b.Minor, b.MeasuredPower)
}

// ParseIBeacon decodes a manufacturer specific AD structure sent by addr.
// It reports false for anything but a well formed iBeacon.
func ParseIBeacon(ad ADStructure, addr BDAddr) (*IBeacon, bool) {
	d := ad.Data
	if ad.Type != typeManufacturerData || len(d) != ibeaconLen || !bytes.HasPrefix(d, ibeaconPrefix) {
		return nil, false
	}
	b := &IBeacon{
		Major:         binary.BigEndian.Uint16(d[20:22]),
		Minor:         binary.BigEndian.Uint16(d[22:24]),
		MeasuredPower: int8(d[24]),
		Address:       addr,
	}
	copy(b.UUID[:], d[4:20])
	return b, true
}

// IBeaconFromAdvertisement looks for an iBeacon in a's manufacturer data.
func IBeaconFromAdvertisement(a *Advertisement, addr BDAddr) (*IBeacon, bool) {
	s, ok := a.Structure(typeManufacturerData)
	if !ok {
		return nil, false
	}
	return ParseIBeacon(s, addr)
}

// Marshal returns the manufacturer data of b, without the AD header.
func (b *IBeacon) Marshal() []byte {
	d := make([]byte, ibeaconLen)
	copy(d, ibeaconPrefix)
	copy(d[4:20], b.UUID[:])
	binary.BigEndian.PutUint16(d[20:], b.Major)
	binary.BigEndian.PutUint16(d[22:], b.Minor)
	d[24] = byte(b.MeasuredPower)
	return d
}
