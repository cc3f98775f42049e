package gatt

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestParseIBeacon(t *testing.T) {
	u := uuid.MustParse("E2C56DB5-DFFB-48D2-B060-D0F5A71096E0")
	want := &IBeacon{UUID: u, Major: 0x0102, Minor: 0x0304, MeasuredPower: -59, Address: testAddr}

	data := want.Marshal()
	if len(data) != ibeaconLen || !bytes.HasPrefix(data, ibeaconPrefix) {
		t.Fatalf("Marshal: got % X", data)
	}
	got, ok := ParseIBeacon(ADStructure{Type: ADManufacturerData, Data: data}, testAddr)
	if !ok {
		t.Fatal("ParseIBeacon rejected a marshaled beacon")
	}
	if *got != *want {
		t.Errorf("ParseIBeacon: got %s want %s", got, want)
	}

	// Major and minor are big endian on the air.
	if data[20] != 0x01 || data[21] != 0x02 || data[22] != 0x03 || data[23] != 0x04 {
		t.Errorf("major/minor bytes: got % X", data[20:24])
	}
}

func TestParseIBeaconRejects(t *testing.T) {
	good := (&IBeacon{Major: 1, Minor: 2}).Marshal()
	cases := []struct {
		name string
		ad   ADStructure
	}{
		{"wrong type", ADStructure{Type: ADCompleteName, Data: good}},
		{"short", ADStructure{Type: ADManufacturerData, Data: good[:24]}},
		{"long", ADStructure{Type: ADManufacturerData, Data: append(append([]byte(nil), good...), 0)}},
		{"other company", ADStructure{Type: ADManufacturerData, Data: append([]byte{0x59, 0x00}, good[2:]...)}},
		{"other type", ADStructure{Type: ADManufacturerData, Data: append([]byte{0x4C, 0x00, 0x03, 0x15}, good[4:]...)}},
	}
	for _, tt := range cases {
		if b, ok := ParseIBeacon(tt.ad, testAddr); ok {
			t.Errorf("%s: accepted as %s", tt.name, b)
		}
	}
}

func TestIBeaconFromAdvertisement(t *testing.T) {
	var adv advPacket
	adv.appendField(ADFlags, []byte{0x06})
	adv.appendField(ADManufacturerData, (&IBeacon{Major: 7, Minor: 9, MeasuredPower: -60}).Marshal())

	b, ok := IBeaconFromAdvertisement(NewAdvertisement(adv.data, nil), testAddr)
	if !ok {
		t.Fatal("no iBeacon found")
	}
	if b.Major != 7 || b.Minor != 9 || b.MeasuredPower != -60 || b.Address != testAddr {
		t.Errorf("got %s", b)
	}
	if _, ok := IBeaconFromAdvertisement(NewAdvertisement([]byte{0x02, 0x01, 0x06}, nil), testAddr); ok {
		t.Error("iBeacon found in flags only advertisement")
	}
}
