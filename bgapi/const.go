package bgapi

import "fmt"

// Class identifies a BGAPI command class.
type Class uint8

const (
	ClassSystem     Class = 0
	ClassFlash      Class = 1
	ClassAttributes Class = 2
	ClassConnection Class = 3
	ClassATTClient  Class = 4
	ClassSM         Class = 5
	ClassGAP        Class = 6
	ClassHardware   Class = 7
)

var className = map[Class]string{
	ClassSystem:     "system",
	ClassFlash:      "flash",
	ClassAttributes: "attributes",
	ClassConnection: "connection",
	ClassATTClient:  "attclient",
	ClassSM:         "sm",
	ClassGAP:        "gap",
	ClassHardware:   "hardware",
}

func (c Class) String() string {
	if n, ok := className[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ErrorCode is the 16-bit result carried by responses and some events.
type ErrorCode uint16

const (
	ErrNone ErrorCode = 0x0000

	// BGAPI errors
	ErrInvalidParameter      ErrorCode = 0x0180
	ErrDeviceInWrongState    ErrorCode = 0x0181
	ErrOutOfMemory           ErrorCode = 0x0182
	ErrFeatureNotImplemented ErrorCode = 0x0183
	ErrCommandNotRecognized  ErrorCode = 0x0184
	ErrRadioTimeout          ErrorCode = 0x0185
	ErrNotConnected          ErrorCode = 0x0186
	ErrFlow                  ErrorCode = 0x0187
	ErrUserAttribute         ErrorCode = 0x0188
	ErrInvalidLicenseKey     ErrorCode = 0x0189
	ErrCommandTooLong        ErrorCode = 0x018A
	ErrOutOfBonds            ErrorCode = 0x018B

	// Bluetooth controller errors
	ErrAuthenticationFailure           ErrorCode = 0x0205
	ErrPinOrKeyMissing                 ErrorCode = 0x0206
	ErrMemoryCapacityExceeded          ErrorCode = 0x0207
	ErrConnectionTimeout               ErrorCode = 0x0208
	ErrConnectionLimitExceeded         ErrorCode = 0x0209
	ErrCommandDisallowed               ErrorCode = 0x020C
	ErrInvalidCommandParameters        ErrorCode = 0x0212
	ErrRemoteUserTerminatedConnection  ErrorCode = 0x0213
	ErrConnectionTerminatedByLocalHost ErrorCode = 0x0216
	ErrLLResponseTimeout               ErrorCode = 0x0222
	ErrLLInstantPassed                 ErrorCode = 0x0228
	ErrControllerBusy                  ErrorCode = 0x023A
	ErrUnacceptableConnectionInterval  ErrorCode = 0x023B
	ErrDirectedAdvertisingTimeout      ErrorCode = 0x023C
	ErrMICFailure                      ErrorCode = 0x023D
	ErrConnectionFailedToBeEstablished ErrorCode = 0x023E

	// Security manager errors
	ErrPasskeyEntryFailed         ErrorCode = 0x0301
	ErrOOBDataNotAvailable        ErrorCode = 0x0302
	ErrAuthenticationRequirements ErrorCode = 0x0303
	ErrConfirmValueFailed         ErrorCode = 0x0304
	ErrPairingNotSupported        ErrorCode = 0x0305
	ErrEncryptionKeySize          ErrorCode = 0x0306
	ErrCommandNotSupported        ErrorCode = 0x0307
	ErrUnspecifiedReason          ErrorCode = 0x0308
	ErrRepeatedAttempts           ErrorCode = 0x0309
	ErrSMInvalidParameters        ErrorCode = 0x030A

	// Attribute protocol errors
	ErrInvalidHandle                 ErrorCode = 0x0401
	ErrReadNotPermitted              ErrorCode = 0x0402
	ErrWriteNotPermitted             ErrorCode = 0x0403
	ErrInvalidPDU                    ErrorCode = 0x0404
	ErrInsufficientAuthentication    ErrorCode = 0x0405
	ErrRequestNotSupported           ErrorCode = 0x0406
	ErrInvalidOffset                 ErrorCode = 0x0407
	ErrInsufficientAuthorization     ErrorCode = 0x0408
	ErrPrepareQueueFull              ErrorCode = 0x0409
	ErrAttributeNotFound             ErrorCode = 0x040A
	ErrAttributeNotLong              ErrorCode = 0x040B
	ErrInsufficientEncryptionKeySize ErrorCode = 0x040C
	ErrInvalidAttributeValueLength   ErrorCode = 0x040D
	ErrUnlikelyError                 ErrorCode = 0x040E
	ErrInsufficientEncryption        ErrorCode = 0x040F
	ErrUnsupportedGroupType          ErrorCode = 0x0410
	ErrInsufficientResources         ErrorCode = 0x0411
	ErrApplicationError              ErrorCode = 0x0480
)

var errorCodeName = map[ErrorCode]string{
	ErrNone: "Success",

	ErrInvalidParameter:      "Invalid Parameter",
	ErrDeviceInWrongState:    "Device in Wrong State",
	ErrOutOfMemory:           "Out Of Memory",
	ErrFeatureNotImplemented: "Feature Not Implemented",
	ErrCommandNotRecognized:  "Command Not Recognized",
	ErrRadioTimeout:          "Timeout",
	ErrNotConnected:          "Not Connected",
	ErrFlow:                  "Flow",
	ErrUserAttribute:         "User Attribute",
	ErrInvalidLicenseKey:     "Invalid License Key",
	ErrCommandTooLong:        "Command Too Long",
	ErrOutOfBonds:            "Out of Bonds",

	ErrAuthenticationFailure:           "Authentication Failure",
	ErrPinOrKeyMissing:                 "Pin or Key Missing",
	ErrMemoryCapacityExceeded:          "Memory Capacity Exceeded",
	ErrConnectionTimeout:               "Connection Timeout",
	ErrConnectionLimitExceeded:         "Connection Limit Exceeded",
	ErrCommandDisallowed:               "Command Disallowed",
	ErrInvalidCommandParameters:        "Invalid Command Parameters",
	ErrRemoteUserTerminatedConnection:  "Remote User Terminated Connection",
	ErrConnectionTerminatedByLocalHost: "Connection Terminated by Local Host",
	ErrLLResponseTimeout:               "LL Response Timeout",
	ErrLLInstantPassed:                 "LL Instant Passed",
	ErrControllerBusy:                  "Controller Busy",
	ErrUnacceptableConnectionInterval:  "Unacceptable Connection Interval",
	ErrDirectedAdvertisingTimeout:      "Directed Advertising Timeout",
	ErrMICFailure:                      "MIC Failure",
	ErrConnectionFailedToBeEstablished: "Connection Failed to be Established",

	ErrPasskeyEntryFailed:         "Passkey Entry Failed",
	ErrOOBDataNotAvailable:        "OOB Data is not available",
	ErrAuthenticationRequirements: "Authentication Requirements",
	ErrConfirmValueFailed:         "Confirm Value Failed",
	ErrPairingNotSupported:        "Pairing Not Supported",
	ErrEncryptionKeySize:          "Encryption Key Size",
	ErrCommandNotSupported:        "Command Not Supported",
	ErrUnspecifiedReason:          "Unspecified Reason",
	ErrRepeatedAttempts:           "Repeated Attempts",
	ErrSMInvalidParameters:        "Invalid Parameters",

	ErrInvalidHandle:                 "Invalid Handle",
	ErrReadNotPermitted:              "Read Not Permitted",
	ErrWriteNotPermitted:             "Write Not Permitted",
	ErrInvalidPDU:                    "Invalid PDU",
	ErrInsufficientAuthentication:    "Insufficient Authentication",
	ErrRequestNotSupported:           "Request Not Supported",
	ErrInvalidOffset:                 "Invalid Offset",
	ErrInsufficientAuthorization:     "Insufficient Authorization",
	ErrPrepareQueueFull:              "Prepare Queue Full",
	ErrAttributeNotFound:             "Attribute Not Found",
	ErrAttributeNotLong:              "Attribute Not Long",
	ErrInsufficientEncryptionKeySize: "Insufficient Encryption Key Size",
	ErrInvalidAttributeValueLength:   "Invalid Attribute Value Length",
	ErrUnlikelyError:                 "Unlikely Error",
	ErrInsufficientEncryption:        "Insufficient Encryption",
	ErrUnsupportedGroupType:          "Unsupported Group Type",
	ErrInsufficientResources:         "Insufficient Resources",
	ErrApplicationError:              "Application Error Codes",
}

func (e ErrorCode) String() string {
	if n, ok := errorCodeName[e]; ok {
		return n
	}
	return fmt.Sprintf("Unknown Error (0x%04X)", uint16(e))
}

// AttValueType is the type field of an attclient attribute_value event.
type AttValueType uint8

const (
	AttValueRead AttValueType = iota
	AttValueNotify
	AttValueIndicate
	AttValueReadByType
	AttValueReadBlob
	AttValueIndicateRspReq
)

// Connection status flags.
const (
	ConnFlagConnected        uint8 = 1 << iota // connection exists
	ConnFlagEncrypted                          // link is encrypted
	ConnFlagCompleted                          // connection established
	ConnFlagParametersChange                   // parameters changed after establishment
)

// DiscoverMode selects the GAP discovery procedure.
type DiscoverMode uint8

const (
	DiscoverLimited     DiscoverMode = 0
	DiscoverGeneric     DiscoverMode = 1
	DiscoverObservation DiscoverMode = 2
)

// AddressType is the type of a Bluetooth device address.
type AddressType uint8

const (
	AddressPublic AddressType = 0
	AddressRandom AddressType = 1
)

func (t AddressType) String() string {
	if t == AddressRandom {
		return "random"
	}
	return "public"
}

// Scan response packet types.
const (
	PacketConnectableAdv    uint8 = 0
	PacketNonConnectableAdv uint8 = 2
	PacketScanResponse      uint8 = 4
	PacketDiscoverableAdv   uint8 = 6
)

// GAP discoverable modes for SetMode.
const (
	GAPNonDiscoverable     uint8 = 0
	GAPLimitedDiscoverable uint8 = 1
	GAPGeneralDiscoverable uint8 = 2
	GAPBroadcast           uint8 = 3
	GAPUserData            uint8 = 4
)

// GAP connectable modes for SetMode.
const (
	GAPNonConnectable          uint8 = 0
	GAPDirectedConnectable     uint8 = 1
	GAPUndirectedConnectable   uint8 = 2
	GAPScannableNonConnectable uint8 = 3
)
