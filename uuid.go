package gatt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// A UUID is a BLE UUID.
type UUID struct {
	// Hide the bytes, so that we can enforce that they are immutable.
	// The bytes are stored in wire (little-endian) order.
	b []byte
}

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID{b}
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.Replace(s, "-", "", -1)
	b, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, err
	}
	if err := lenErr(len(b)); err != nil {
		return UUID{}, err
	}
	return UUID{reverse(b)}, nil
}

// MustParseUUID parses a standard-format UUID string,
// like Parse, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// uuidFromWire copies a UUID received from the radio. Peers are trusted
// to send 2 or 16 bytes; other lengths are kept as-is.
func uuidFromWire(b []byte) UUID {
	c := make([]byte, len(b))
	copy(c, b)
	return UUID{c}
}

// lenErr returns an error if n is an invalid UUID length.
func lenErr(n int) error {
	switch n {
	case 2, 16:
		return nil
	}
	return errors.Errorf("UUIDs must have length 2 or 16, got %d", n)
}

// Len returns the length of the UUID, in bytes.
// BLE UUIDs are either 2 or 16 bytes.
func (u UUID) Len() int {
	return len(u.b)
}

// Bytes returns a copy of the UUID in wire order.
func (u UUID) Bytes() []byte {
	return uuidFromWire(u.b).b
}

// String hex-encodes a UUID.
func (u UUID) String() string {
	return fmt.Sprintf("%X", reverse(u.b))
}

// Equal returns a boolean reporting whether v represent the same UUID as u.
func (u UUID) Equal(v UUID) bool {
	return bytes.Equal(u.b, v.b)
}

// Name returns the assigned name of well known UUIDs, or "".
func (u UUID) Name() string {
	return knownUUID[u.String()]
}

// containsUUID reports whether u is in s. An empty s matches every UUID.
func containsUUID(s []UUID, u UUID) bool {
	if len(s) == 0 {
		return true
	}
	for _, a := range s {
		if a.Equal(u) {
			return true
		}
	}
	return false
}

// reverse returns a reversed copy of u.
func reverse(u []byte) []byte {
	// Special-case 16 bit UUIDS for speed.
	l := len(u)
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l/2+1 && i < l; i++ {
		b[i], b[l-i-1] = u[l-i-1], u[i]
	}
	return b
}

var knownUUID = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"180A": "Device Information",
	"180D": "Heart Rate",
	"180F": "Battery Service",
	"2800": "Primary Service",
	"2801": "Secondary Service",
	"2802": "Include",
	"2803": "Characteristic",
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2A00": "Device Name",
	"2A01": "Appearance",
	"2A04": "Peripheral Preferred Connection Parameters",
	"2A05": "Service Changed",
	"2A19": "Battery Level",
	"2A23": "System ID",
	"2A24": "Model Number String",
	"2A25": "Serial Number String",
	"2A26": "Firmware Revision String",
	"2A27": "Hardware Revision String",
	"2A28": "Software Revision String",
	"2A29": "Manufacturer Name String",
	"2A37": "Heart Rate Measurement",
}
