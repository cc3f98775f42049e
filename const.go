package gatt

import (
	"strings"
	"time"
)

var (
	attrPrimaryServiceUUID             = UUID16(0x2800)
	attrCharacteristicUUID             = UUID16(0x2803)
	attrClientCharacteristicConfigUUID = UUID16(0x2902)
)

// Handle range searched by discovery procedures.
const (
	handleFirst = 0x0001
	handleLast  = 0xFFFF
)

// Client characteristic configuration values.
const (
	cccNotify   uint16 = 0x0001
	cccIndicate uint16 = 0x0002
	cccDisable  uint16 = 0x0000
)

// Property is the characteristic properties bit field.
type Property uint8

// The bit order below is the order of the properties byte of a
// characteristic declaration.

// Characteristic property flags.
const (
	CharBroadcast   Property = 1 << iota // the characteristic value may be broadcast
	CharRead                             // the characteristic may be read
	CharWriteNR                          // the characteristic may be written to, with no reply
	CharWrite                            // the characteristic may be written to, with a reply
	CharNotify                           // the characteristic supports notifications
	CharIndicate                         // the characteristic supports indications
	CharSignedWrite                      // the characteristic supports signed writes
	CharExtended                         // extended properties are in a descriptor
)

var propertyNames = []string{"broadcast", "read", "writeNR", "write", "notify", "indicate", "signedWrite", "extended"}

func (p Property) String() string {
	var s []string
	for i, n := range propertyNames {
		if p&(1<<uint(i)) != 0 {
			s = append(s, n)
		}
	}
	return strings.Join(s, "|")
}

// Defaults for the central's timeouts and cache.
const (
	DefaultConnectTimeout       = 8000 * time.Millisecond
	DefaultCancelTimeout        = 3000 * time.Millisecond
	DefaultDiscoveryTimeout     = 4000 * time.Millisecond
	DefaultCharDiscoveryTimeout = 10000 * time.Millisecond
	DefaultReadTimeout          = 3000 * time.Millisecond
	DefaultWriteTimeout         = 5000 * time.Millisecond
	DefaultCacheSize            = 1024
)
