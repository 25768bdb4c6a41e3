// Package scsi holds SCSI-2/SPC wire constants shared by the controller
// and logical unit layers: opcodes, status bytes, sense keys and
// additional sense codes, and the CDB length table.
//
// Values are taken from the SCSI-2 and SPC command sets; naming follows
// the convention used by other Go SCSI target implementations (see
// DESIGN.md for the grounding source).
package scsi

// Opcode is a SCSI command operation code, the first byte of a CDB.
type Opcode byte

const (
	TestUnitReady      Opcode = 0x00
	RezeroUnit         Opcode = 0x01
	RequestSense       Opcode = 0x03
	FormatUnit         Opcode = 0x04
	ReadBlockLimits    Opcode = 0x05
	ReassignBlocks     Opcode = 0x07
	Read6              Opcode = 0x08
	Write6             Opcode = 0x0a
	Seek6              Opcode = 0x0b
	Inquiry            Opcode = 0x12
	ModeSelect6        Opcode = 0x15
	ReserveUnit        Opcode = 0x16
	ReleaseUnit        Opcode = 0x17
	ModeSense6         Opcode = 0x1a
	StartStopUnit      Opcode = 0x1b
	SendDiagnostic     Opcode = 0x1d
	PreventAllowRemove Opcode = 0x1e

	ReadCapacity10 Opcode = 0x25
	Read10         Opcode = 0x28
	Write10        Opcode = 0x2a
	Verify10       Opcode = 0x2f
	SynchronizeCache10 Opcode = 0x35
	ReadTOC        Opcode = 0x43
	GetEventStatusNotification Opcode = 0x4a
	ModeSelect10   Opcode = 0x55
	ModeSense10    Opcode = 0x5a

	Print Opcode = 0x0a // vendor/class-specific overlap with Write6 for printer LUs; dispatched by device class.

	ReportLuns     Opcode = 0xa0
	Read12         Opcode = 0xa8
	Write12        Opcode = 0xaa
	Verify12       Opcode = 0xaf
	Read16         Opcode = 0x88
	Write16        Opcode = 0x8a
	Verify16       Opcode = 0x8f
	SynchronizeCache16 Opcode = 0x91
	ReadCapacity16 Opcode = 0x9e // service-action-in, SAI_READ_CAPACITY16
)

// ACSI compatibility prefix byte: PiSCSI and ICD-aware ACSI hosts
// prepend this byte before the real CDB to reach the full SCSI command
// set from an 8-bit ACSI bus.
const ACSIPrefix = 0x1F

// CDBLength returns the number of bytes in the CDB beginning with the
// given opcode, or 0 for an opcode the emulator does not recognize (the
// caller should respond with CHECK CONDITION / ILLEGAL REQUEST).
//
// The default mapping is the standard SCSI-2 opcode-group-code ranges;
// 0x05 is a named exception (spec-mandated compatibility with existing
// deployed behavior: real SCSI-2 treats it as a 6-byte vendor-specific
// command, but this emulator has always dispatched it as 10 bytes, and
// no observed initiator requires the standard behavior).
func CDBLength(opcode Opcode) int {
	switch {
	case opcode == ReadBlockLimits:
		return 10
	case opcode <= 0x1F:
		return 6
	case opcode <= 0x7D:
		return 10
	case opcode >= 0x80 && opcode <= 0x9F:
		return 16
	case opcode >= 0xA0 && opcode <= 0xBF:
		return 12
	default:
		return 0
	}
}

// Status is the single status byte sent in the Status phase.
type Status byte

const (
	StatusGood                Status = 0x00
	StatusCheckCondition      Status = 0x02
	StatusConditionMet        Status = 0x04
	StatusBusy                Status = 0x08
	StatusReservationConflict Status = 0x18
)

// Message is a one-byte message sent/received during MsgIn/MsgOut.
type Message byte

const (
	MsgCommandComplete   Message = 0x00
	MsgAbort             Message = 0x06
	MsgBusDeviceReset    Message = 0x0C
	MsgNoOperation       Message = 0x08
	MsgReject            Message = 0x07
	MsgIdentifyLUNBit    = 1 << 7
	MsgIdentifyLUNMask   = 0x07
)

// SenseKey is the top-level classification returned by REQUEST SENSE.
type SenseKey byte

const (
	SenseNoSense        SenseKey = 0x00
	SenseRecoveredError SenseKey = 0x01
	SenseNotReady       SenseKey = 0x02
	SenseMediumError    SenseKey = 0x03
	SenseHardwareError  SenseKey = 0x04
	SenseIllegalRequest SenseKey = 0x05
	SenseUnitAttention  SenseKey = 0x06
	SenseDataProtect    SenseKey = 0x07
	SenseAbortedCommand SenseKey = 0x0B
)

// ASC/ASCQ pairs named by spec.md.
const (
	ASCInvalidCommandOperationCode byte = 0x20
	ASCQNone                       byte = 0x00

	ASCNoAdditionalSenseInfo byte = 0x00

	ASCPowerOnResetOrBusDeviceReset byte = 0x29
	ASCQPowerOnResetOrBusDeviceReset byte = 0x00

	ASCUnrecoveredReadError byte = 0x11
	ASCQUnrecoveredReadError byte = 0x00

	ASCWriteError byte = 0x0C
	ASCQWriteError byte = 0x02

	ASCInvalidFieldInCDB byte = 0x24
	ASCQInvalidFieldInCDB byte = 0x00

	ASCLogicalUnitNotReady byte = 0x04
	ASCQLogicalUnitNotReady byte = 0x02

	ASCMediumNotPresent byte = 0x3A
	ASCQMediumNotPresent byte = 0x00
)

// Sense is the fixed-format sense tuple a LogicalUnit reports.
type Sense struct {
	Key  SenseKey
	ASC  byte
	ASCQ byte
}

// IsNone reports whether the sense data represents no pending error.
func (s Sense) IsNone() bool {
	return s.Key == SenseNoSense && s.ASC == 0 && s.ASCQ == 0
}

// FixedFormat renders sense data into the standard SCSI-2 18-byte fixed
// format sense buffer (response code 0x70, current errors), the layout
// produced by REQUEST SENSE.
func (s Sense) FixedFormat() [18]byte {
	var buf [18]byte
	buf[0] = 0x70
	buf[2] = byte(s.Key)
	buf[7] = byte(len(buf) - 8)
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return buf
}

// DeviceType is the peripheral device type byte returned by INQUIRY.
type DeviceType byte

const (
	DeviceDisk        DeviceType = 0x00
	DeviceCDROM       DeviceType = 0x05
	DeviceMO          DeviceType = 0x07
	DevicePrinter     DeviceType = 0x02
	DeviceBridge      DeviceType = 0x03 // processor device, used for the host-services bridge
	DeviceDaynaPort   DeviceType = 0x03 // DaynaPort also masquerades as a processor-type device on the bus
	DeviceNoLUN       DeviceType = 0x7F
)
