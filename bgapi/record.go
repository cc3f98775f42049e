package bgapi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type unmarshaler interface {
	unmarshal(b []byte) error
}

type recordDef struct {
	name string
	new  func() interface{}
}

func rsp(c Class, cmd uint8) ID { return ID{Class: c, Command: cmd} }
func evt(c Class, cmd uint8) ID { return ID{Event: true, Class: c, Command: cmd} }

var records = map[ID]recordDef{
	rsp(ClassSystem, 1): {"hello", func() interface{} { return &SystemHelloRsp{} }},
	rsp(ClassSystem, 2): {"address_get", func() interface{} { return &SystemAddressGetRsp{} }},
	rsp(ClassSystem, 3): {"reg_write", func() interface{} { return &SystemRegWriteRsp{} }},
	rsp(ClassSystem, 4): {"reg_read", func() interface{} { return &SystemRegReadRsp{} }},
	rsp(ClassSystem, 5): {"get_counters", func() interface{} { return &SystemGetCountersRsp{} }},
	rsp(ClassSystem, 6): {"get_connections", func() interface{} { return &SystemGetConnectionsRsp{} }},
	rsp(ClassSystem, 8): {"get_info", func() interface{} { return &SystemGetInfoRsp{} }},

	rsp(ClassConnection, 0): {"disconnect", func() interface{} { return &ConnectionRsp{} }},
	rsp(ClassConnection, 1): {"get_rssi", func() interface{} { return &ConnectionGetRSSIRsp{} }},
	rsp(ClassConnection, 2): {"update", func() interface{} { return &ConnectionRsp{} }},

	rsp(ClassATTClient, 1): {"read_by_group_type", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 2): {"read_by_type", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 3): {"find_information", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 4): {"read_by_handle", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 5): {"attribute_write", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 6): {"write_command", func() interface{} { return &ATTClientRsp{} }},
	rsp(ClassATTClient, 7): {"indicate_confirm", func() interface{} { return &ATTClientIndicateConfirmRsp{} }},
	rsp(ClassATTClient, 8): {"read_long", func() interface{} { return &ATTClientRsp{} }},

	rsp(ClassGAP, 1): {"set_mode", func() interface{} { return &GAPRsp{} }},
	rsp(ClassGAP, 2): {"discover", func() interface{} { return &GAPRsp{} }},
	rsp(ClassGAP, 3): {"connect_direct", func() interface{} { return &GAPConnectRsp{} }},
	rsp(ClassGAP, 4): {"end_procedure", func() interface{} { return &GAPRsp{} }},
	rsp(ClassGAP, 5): {"connect_selective", func() interface{} { return &GAPConnectRsp{} }},
	rsp(ClassGAP, 6): {"set_filtering", func() interface{} { return &GAPRsp{} }},
	rsp(ClassGAP, 7): {"set_scan_parameters", func() interface{} { return &GAPRsp{} }},

	evt(ClassSystem, 0): {"boot", func() interface{} { return &SystemBootEvt{} }},
	evt(ClassSystem, 1): {"debug", func() interface{} { return &SystemDebugEvt{} }},
	evt(ClassSystem, 2): {"endpoint_watermark_rx", func() interface{} { return &SystemEndpointWatermarkEvt{} }},
	evt(ClassSystem, 3): {"endpoint_watermark_tx", func() interface{} { return &SystemEndpointWatermarkEvt{} }},
	evt(ClassSystem, 4): {"script_failure", func() interface{} { return &SystemScriptFailureEvt{} }},
	evt(ClassSystem, 5): {"no_license_key", func() interface{} { return &SystemNoLicenseKeyEvt{} }},
	evt(ClassSystem, 6): {"protocol_error", func() interface{} { return &SystemProtocolErrorEvt{} }},

	evt(ClassFlash, 0): {"ps_key", func() interface{} { return &FlashPSKeyEvt{} }},

	evt(ClassAttributes, 0): {"value", func() interface{} { return &AttributesValueEvt{} }},
	evt(ClassAttributes, 1): {"user_read_request", func() interface{} { return &AttributesUserReadRequestEvt{} }},
	evt(ClassAttributes, 2): {"status", func() interface{} { return &AttributesStatusEvt{} }},

	evt(ClassConnection, 0): {"status", func() interface{} { return &ConnectionStatusEvt{} }},
	evt(ClassConnection, 1): {"version_ind", func() interface{} { return &ConnectionVersionIndEvt{} }},
	evt(ClassConnection, 2): {"feature_ind", func() interface{} { return &ConnectionFeatureIndEvt{} }},
	evt(ClassConnection, 3): {"raw_rx", func() interface{} { return &ConnectionRawRxEvt{} }},
	evt(ClassConnection, 4): {"disconnected", func() interface{} { return &ConnectionDisconnectedEvt{} }},

	evt(ClassATTClient, 0): {"indicated", func() interface{} { return &ATTClientIndicatedEvt{} }},
	evt(ClassATTClient, 1): {"procedure_completed", func() interface{} { return &ATTClientProcedureCompletedEvt{} }},
	evt(ClassATTClient, 2): {"group_found", func() interface{} { return &ATTClientGroupFoundEvt{} }},
	evt(ClassATTClient, 3): {"attribute_found", func() interface{} { return &ATTClientAttributeFoundEvt{} }},
	evt(ClassATTClient, 4): {"find_information_found", func() interface{} { return &ATTClientFindInformationFoundEvt{} }},
	evt(ClassATTClient, 5): {"attribute_value", func() interface{} { return &ATTClientAttributeValueEvt{} }},
	evt(ClassATTClient, 6): {"read_multiple_response", func() interface{} { return &ATTClientReadMultipleResponseEvt{} }},

	evt(ClassGAP, 0): {"scan_response", func() interface{} { return &GAPScanResponseEvt{} }},
	evt(ClassGAP, 1): {"mode_changed", func() interface{} { return &GAPModeChangedEvt{} }},

	evt(ClassHardware, 0): {"io_port_status", func() interface{} { return &HardwareIOPortStatusEvt{} }},
	evt(ClassHardware, 1): {"soft_timer", func() interface{} { return &HardwareSoftTimerEvt{} }},
	evt(ClassHardware, 2): {"adc_result", func() interface{} { return &HardwareADCResultEvt{} }},
}

// DecodeError is reported when a framed payload does not fit the layout of
// its record.
type DecodeError struct {
	ID  ID
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("bgapi: decode %s: %v", e.ID, e.Err) }
func (e *DecodeError) Cause() error  { return e.Err }
func (e *DecodeError) Unwrap() error { return e.Err }

// Raw carries a packet that has no known record layout.
type Raw struct {
	Packet
}

// Decode converts a framed packet into its typed record. Unknown IDs decode
// to *Raw.
func Decode(p *Packet) (interface{}, error) {
	d, ok := records[p.ID]
	if !ok {
		return &Raw{Packet: *p}, nil
	}
	r := d.new()
	var err error
	if u, ok := r.(unmarshaler); ok {
		err = u.unmarshal(p.Payload)
	} else {
		err = binary.Read(bytes.NewReader(p.Payload), binary.LittleEndian, r)
	}
	if err != nil {
		return nil, &DecodeError{ID: p.ID, Err: err}
	}
	return r, nil
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func newDecoder(b []byte) *decoder { return &decoder{r: bytes.NewReader(b)} }

func (d *decoder) read(vv ...interface{}) {
	for _, v := range vv {
		if d.err != nil {
			return
		}
		d.err = binary.Read(d.r, binary.LittleEndian, v)
	}
}

// bytes reads a variable length field preceded by its one-byte length.
func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	n, err := d.r.ReadByte()
	if err != nil {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	if int(n) > d.r.Len() {
		d.err = fmt.Errorf("field length %d exceeds %d remaining bytes", n, d.r.Len())
		return nil
	}
	b := make([]byte, n)
	d.r.Read(b)
	return b
}

// System responses

type SystemHelloRsp struct{}

func (*SystemHelloRsp) unmarshal([]byte) error { return nil }

type SystemAddressGetRsp struct {
	Address Addr
}

type SystemRegWriteRsp struct {
	Result ErrorCode
}

type SystemRegReadRsp struct {
	Address uint16
	Value   uint8
}

type SystemGetCountersRsp struct {
	TxOK    uint8
	TxRetry uint8
	RxOK    uint8
	RxFail  uint8
	MBuf    uint8
}

type SystemGetConnectionsRsp struct {
	MaxConn uint8
}

type SystemGetInfoRsp struct {
	Info
}

// Connection responses

// ConnectionRsp answers connection disconnect and update.
type ConnectionRsp struct {
	Connection uint8
	Result     ErrorCode
}

type ConnectionGetRSSIRsp struct {
	Connection uint8
	RSSI       int8
}

// ATT client responses

// ATTClientRsp answers every attclient procedure that starts a GATT exchange.
type ATTClientRsp struct {
	Connection uint8
	Result     ErrorCode
}

type ATTClientIndicateConfirmRsp struct {
	Result ErrorCode
}

// GAP responses

// GAPRsp answers GAP commands that only report a result.
type GAPRsp struct {
	Result ErrorCode
}

type GAPConnectRsp struct {
	Result     ErrorCode
	Connection uint8
}

// System events

type SystemBootEvt struct {
	Info
}

type SystemDebugEvt struct {
	Data []byte
}

func (e *SystemDebugEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	e.Data = d.bytes()
	return d.err
}

type SystemEndpointWatermarkEvt struct {
	Endpoint uint8
	Data     uint8
}

type SystemScriptFailureEvt struct {
	Address uint16
	Reason  ErrorCode
}

type SystemNoLicenseKeyEvt struct{}

func (*SystemNoLicenseKeyEvt) unmarshal([]byte) error { return nil }

type SystemProtocolErrorEvt struct {
	Reason ErrorCode
}

type FlashPSKeyEvt struct {
	Key   uint16
	Value []byte
}

func (e *FlashPSKeyEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Key)
	e.Value = d.bytes()
	return d.err
}

// Attributes events

type AttributesValueEvt struct {
	Connection uint8
	Reason     uint8
	Handle     uint16
	Offset     uint16
	Value      []byte
}

func (e *AttributesValueEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection, &e.Reason, &e.Handle, &e.Offset)
	e.Value = d.bytes()
	return d.err
}

type AttributesUserReadRequestEvt struct {
	Connection uint8
	Handle     uint16
	Offset     uint16
	MaxSize    uint8
}

type AttributesStatusEvt struct {
	Handle uint16
	Flags  uint8
}

// Connection events

type ConnectionStatusEvt struct {
	Connection   uint8
	Flags        uint8
	Address      Addr
	AddressType  AddressType
	ConnInterval uint16 // 1.25 ms units
	Timeout      uint16 // 10 ms units
	Latency      uint16
	Bonding      uint8
}

type ConnectionVersionIndEvt struct {
	Connection uint8
	VersNr     uint8
	CompID     uint16
	SubVersNr  uint16
}

type ConnectionFeatureIndEvt struct {
	Connection uint8
	Features   []byte
}

func (e *ConnectionFeatureIndEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection)
	e.Features = d.bytes()
	return d.err
}

type ConnectionRawRxEvt struct {
	Connection uint8
	Data       []byte
}

func (e *ConnectionRawRxEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection)
	e.Data = d.bytes()
	return d.err
}

type ConnectionDisconnectedEvt struct {
	Connection uint8
	Reason     ErrorCode
}

// ATT client events

type ATTClientIndicatedEvt struct {
	Connection uint8
	AttHandle  uint16
}

type ATTClientProcedureCompletedEvt struct {
	Connection uint8
	Result     ErrorCode
	ChrHandle  uint16
}

type ATTClientGroupFoundEvt struct {
	Connection uint8
	Start      uint16
	End        uint16
	UUID       []byte
}

func (e *ATTClientGroupFoundEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection, &e.Start, &e.End)
	e.UUID = d.bytes()
	return d.err
}

type ATTClientAttributeFoundEvt struct {
	Connection uint8
	ChrDecl    uint16
	Value      uint16
	Properties uint8
	UUID       []byte
}

func (e *ATTClientAttributeFoundEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection, &e.ChrDecl, &e.Value, &e.Properties)
	e.UUID = d.bytes()
	return d.err
}

type ATTClientFindInformationFoundEvt struct {
	Connection uint8
	ChrHandle  uint16
	UUID       []byte
}

func (e *ATTClientFindInformationFoundEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection, &e.ChrHandle)
	e.UUID = d.bytes()
	return d.err
}

type ATTClientAttributeValueEvt struct {
	Connection uint8
	AttHandle  uint16
	Type       AttValueType
	Value      []byte
}

func (e *ATTClientAttributeValueEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection, &e.AttHandle, &e.Type)
	e.Value = d.bytes()
	return d.err
}

type ATTClientReadMultipleResponseEvt struct {
	Connection uint8
	Handles    []byte
}

func (e *ATTClientReadMultipleResponseEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.Connection)
	e.Handles = d.bytes()
	return d.err
}

// GAP events

type GAPScanResponseEvt struct {
	RSSI        int8
	PacketType  uint8
	Sender      Addr
	AddressType AddressType
	Bond        uint8
	Data        []byte
}

func (e *GAPScanResponseEvt) unmarshal(b []byte) error {
	d := newDecoder(b)
	d.read(&e.RSSI, &e.PacketType, &e.Sender, &e.AddressType, &e.Bond)
	e.Data = d.bytes()
	return d.err
}

type GAPModeChangedEvt struct {
	Discover uint8
	Connect  uint8
}

// Hardware events

type HardwareIOPortStatusEvt struct {
	Timestamp uint32
	Port      uint8
	IRQ       uint8
	State     uint8
}

type HardwareSoftTimerEvt struct {
	Handle uint8
}

type HardwareADCResultEvt struct {
	Input uint8
	Value int16
}
