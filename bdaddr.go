package gatt

import (
	"encoding/hex"
	"strings"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
)

// BDAddr is a Bluetooth device address in wire order.
// Its String method prints it most significant byte first.
type BDAddr = bgapi.Addr

// AddressType tells public from random device addresses.
type AddressType = bgapi.AddressType

// Address types.
const (
	AddressPublic = bgapi.AddressPublic
	AddressRandom = bgapi.AddressRandom
)

// ParseBDAddr parses an address such as "AA:BB:CC:DD:EE:FF" or
// "aabbccddeeff", most significant byte first.
func ParseBDAddr(s string) (BDAddr, error) {
	var a BDAddr
	s = strings.NewReplacer(":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, errors.Wrapf(err, "parse address %q", s)
	}
	if len(b) != len(a) {
		return a, errors.Errorf("parse address %q: got %d bytes want %d", s, len(b), len(a))
	}
	for i := range b {
		a[len(a)-1-i] = b[i]
	}
	return a, nil
}
