package gatt

import (
	"fmt"
	"sort"
)

// MaxEIRPacketLength is the maximum allowed AdvertisingPacket
// and ScanResponsePacket length.
const MaxEIRPacketLength = 31

// ADType identifies an AD structure in advertising and scan response data.
type ADType uint8

// advertising data field types
const (
	typeFlags             ADType = 0x01 // Flags
	typeSomeUUID16        ADType = 0x02 // Incomplete List of 16-bit Service Class UUIDs
	typeAllUUID16         ADType = 0x03 // Complete List of 16-bit Service Class UUIDs
	typeSomeUUID32        ADType = 0x04 // Incomplete List of 32-bit Service Class UUIDs
	typeAllUUID32         ADType = 0x05 // Complete List of 32-bit Service Class UUIDs
	typeSomeUUID128       ADType = 0x06 // Incomplete List of 128-bit Service Class UUIDs
	typeAllUUID128        ADType = 0x07 // Complete List of 128-bit Service Class UUIDs
	typeShortName         ADType = 0x08 // Shortened Local Name
	typeCompleteName      ADType = 0x09 // Complete Local Name
	typeTxPower           ADType = 0x0A // Tx Power Level
	typeClassOfDevice     ADType = 0x0D // Class of Device
	typeSimplePairingC192 ADType = 0x0E // Simple Pairing Hash C-192
	typeSimplePairingR192 ADType = 0x0F // Simple Pairing Randomizer R-192
	typeSecManagerTK      ADType = 0x10 // Security Manager TK Value
	typeSecManagerOOB     ADType = 0x11 // Security Manager Out of Band Flags
	typeSlaveConnInt      ADType = 0x12 // Slave Connection Interval Range
	typeServiceSol16      ADType = 0x14 // List of 16-bit Service Solicitation UUIDs
	typeServiceSol128     ADType = 0x15 // List of 128-bit Service Solicitation UUIDs
	typeServiceData16     ADType = 0x16 // Service Data - 16-bit UUID
	typePubTargetAddr     ADType = 0x17 // Public Target Address
	typeRandTargetAddr    ADType = 0x18 // Random Target Address
	typeAppearance        ADType = 0x19 // Appearance
	typeAdvInterval       ADType = 0x1A // Advertising Interval
	typeLEDeviceAddr      ADType = 0x1B // LE Bluetooth Device Address
	typeLERole            ADType = 0x1C // LE Role
	typeSimplePairingC256 ADType = 0x1D // Simple Pairing Hash C-256
	typeSimplePairingR256 ADType = 0x1E // Simple Pairing Randomizer R-256
	typeServiceSol32      ADType = 0x1F // List of 32-bit Service Solicitation UUIDs
	typeServiceData32     ADType = 0x20 // Service Data - 32-bit UUID
	typeServiceData128    ADType = 0x21 // Service Data - 128-bit UUID
	typeLESecConfirm      ADType = 0x22 // LE Secure Connections Confirmation Value
	typeLESecRandom       ADType = 0x23 // LE Secure Connections Random Value
	type3DInfo            ADType = 0x3D // 3D Information Data
	typeManufacturerData  ADType = 0xFF // Manufacturer Specific Data
)

// Exported AD types used by callers of ParseAD.
const (
	ADFlags            = typeFlags
	ADShortName        = typeShortName
	ADCompleteName     = typeCompleteName
	ADManufacturerData = typeManufacturerData
)

var adTypeNames = map[ADType]string{
	typeFlags:             "Flags",
	typeSomeUUID16:        "Incomplete 16-bit UUIDs",
	typeAllUUID16:         "Complete 16-bit UUIDs",
	typeSomeUUID32:        "Incomplete 32-bit UUIDs",
	typeAllUUID32:         "Complete 32-bit UUIDs",
	typeSomeUUID128:       "Incomplete 128-bit UUIDs",
	typeAllUUID128:        "Complete 128-bit UUIDs",
	typeShortName:         "Shortened Local Name",
	typeCompleteName:      "Complete Local Name",
	typeTxPower:           "Tx Power Level",
	typeClassOfDevice:     "Class of Device",
	typeSimplePairingC192: "Simple Pairing Hash C-192",
	typeSimplePairingR192: "Simple Pairing Randomizer R-192",
	typeSecManagerTK:      "Security Manager TK Value",
	typeSecManagerOOB:     "Security Manager OOB Flags",
	typeSlaveConnInt:      "Slave Connection Interval Range",
	typeServiceSol16:      "16-bit Service Solicitation UUIDs",
	typeServiceSol128:     "128-bit Service Solicitation UUIDs",
	typeServiceData16:     "Service Data 16-bit UUID",
	typePubTargetAddr:     "Public Target Address",
	typeRandTargetAddr:    "Random Target Address",
	typeAppearance:        "Appearance",
	typeAdvInterval:       "Advertising Interval",
	typeLEDeviceAddr:      "LE Bluetooth Device Address",
	typeLERole:            "LE Role",
	typeSimplePairingC256: "Simple Pairing Hash C-256",
	typeSimplePairingR256: "Simple Pairing Randomizer R-256",
	typeServiceSol32:      "32-bit Service Solicitation UUIDs",
	typeServiceData32:     "Service Data 32-bit UUID",
	typeServiceData128:    "Service Data 128-bit UUID",
	typeLESecConfirm:      "LE Secure Connections Confirmation Value",
	typeLESecRandom:       "LE Secure Connections Random Value",
	type3DInfo:            "3D Information Data",
	typeManufacturerData:  "Manufacturer Specific Data",
}

func (t ADType) String() string {
	if s, ok := adTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("AD type 0x%02X", uint8(t))
}

// An ADStructure is one length-type-data field of advertising data.
type ADStructure struct {
	Type ADType
	Data []byte
}

// ParseAD splits advertising or scan response data into its AD structures.
// A later structure of the same type replaces an earlier one. Parsing stops
// at a zero length byte or at a structure running past the end of b, and
// whatever was parsed before is returned.
func ParseAD(b []byte) map[ADType]ADStructure {
	m := make(map[ADType]ADStructure)
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 || len(b) < 1+l {
			break
		}
		t := ADType(b[1])
		d := make([]byte, l-1)
		copy(d, b[2:1+l])
		m[t] = ADStructure{Type: t, Data: d}
		b = b[1+l:]
	}
	return m
}

// ServiceData is the payload of a service data AD structure.
type ServiceData struct {
	UUID UUID
	Data []byte
}

// An Advertisement is what a peripheral reported in its advertising and
// scan response data.
type Advertisement struct {
	LocalName        string
	ManufacturerData []byte
	ServiceData      []ServiceData
	Services         []UUID
	SolicitedService []UUID
	TxPowerLevel     int
	Flags            uint8
	Connectable      bool

	// Raw is the advertising data, ScanResponse the scan response data.
	Raw          []byte
	ScanResponse []byte

	structures map[ADType]ADStructure
}

// NewAdvertisement decodes advertising data and scan response data.
// Either may be nil. Fields of the scan response fill in those missing
// from the advertising data.
func NewAdvertisement(adv, scanRsp []byte) *Advertisement {
	a := &Advertisement{Raw: adv, ScanResponse: scanRsp, structures: ParseAD(adv)}
	for t, s := range ParseAD(scanRsp) {
		if _, ok := a.structures[t]; !ok {
			a.structures[t] = s
		}
	}
	a.unmarshal()
	return a
}

// Structure returns the AD structure of type t, if present.
func (a *Advertisement) Structure(t ADType) (ADStructure, bool) {
	s, ok := a.structures[t]
	return s, ok
}

func (a *Advertisement) unmarshal() {
	types := make([]int, 0, len(a.structures))
	for t := range a.structures {
		types = append(types, int(t))
	}
	sort.Ints(types)
	for _, i := range types {
		t := ADType(i)
		d := a.structures[t].Data
		switch t {
		case typeFlags:
			if len(d) > 0 {
				a.Flags = d[0]
			}
		case typeSomeUUID16, typeAllUUID16:
			a.Services = uuidList(a.Services, d, 2)
		case typeSomeUUID32, typeAllUUID32:
			a.Services = uuidList(a.Services, d, 4)
		case typeSomeUUID128, typeAllUUID128:
			a.Services = uuidList(a.Services, d, 16)
		case typeShortName:
			if a.LocalName == "" {
				a.LocalName = string(d)
			}
		case typeCompleteName:
			a.LocalName = string(d)
		case typeTxPower:
			if len(d) > 0 {
				a.TxPowerLevel = int(int8(d[0]))
			}
		case typeServiceSol16:
			a.SolicitedService = uuidList(a.SolicitedService, d, 2)
		case typeServiceSol32:
			a.SolicitedService = uuidList(a.SolicitedService, d, 4)
		case typeServiceSol128:
			a.SolicitedService = uuidList(a.SolicitedService, d, 16)
		case typeServiceData16:
			a.ServiceData = serviceData(a.ServiceData, d, 2)
		case typeServiceData32:
			a.ServiceData = serviceData(a.ServiceData, d, 4)
		case typeServiceData128:
			a.ServiceData = serviceData(a.ServiceData, d, 16)
		case typeManufacturerData:
			a.ManufacturerData = d
		}
	}
}

func uuidList(u []UUID, d []byte, w int) []UUID {
	for len(d) >= w {
		u = append(u, uuidFromWire(d[:w]))
		d = d[w:]
	}
	return u
}

func serviceData(s []ServiceData, d []byte, w int) []ServiceData {
	if len(d) < w {
		return s
	}
	return append(s, ServiceData{UUID: uuidFromWire(d[:w]), Data: d[w:]})
}
