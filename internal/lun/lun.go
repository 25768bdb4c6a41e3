// Package lun implements the LogicalUnit of SPEC_FULL.md §4.5: per-LUN
// device behavior (INQUIRY, READ/WRITE, MODE SENSE, sense data) for
// each of the device classes spec.md names, dispatched from a CDB
// opcode table.
//
// Grounded on original_source's src/raspberrypi/devices/ per-class
// device files and disks/scsihd_nec.h, and on the response-builder
// idiom of other_examples coreos-go-tcmu's scsi_handler.go
// (CheckCondition/NotHandled), adapted to sense state the LogicalUnit
// owns across commands rather than allocating per call.
package lun

import (
	"github.com/akuker/gscsi/internal/image"
	"github.com/akuker/gscsi/internal/scsi"
)

// Type is a LogicalUnit's device class, per spec.md §3.
type Type int

const (
	TypeDisk Type = iota
	TypeCDROM
	TypeMO
	TypeRemovable
	TypePrinter
	TypeBridge
	TypeDaynaPort
	TypeHostServices
)

func (t Type) peripheralDeviceType() scsi.DeviceType {
	switch t {
	case TypeCDROM:
		return scsi.DeviceCDROM
	case TypeMO:
		return scsi.DeviceMO
	case TypePrinter:
		return scsi.DevicePrinter
	case TypeBridge, TypeHostServices:
		return scsi.DeviceBridge
	case TypeDaynaPort:
		return scsi.DeviceDaynaPort
	default:
		return scsi.DeviceDisk
	}
}

func (t Type) removable() bool {
	switch t {
	case TypeCDROM, TypeMO, TypeRemovable:
		return true
	default:
		return false
	}
}

// LogicalUnit is addressed by (TargetID, LUN) and, for block devices,
// owns the ImageHandle backing its storage.
type LogicalUnit struct {
	TargetID int
	LUN      int
	Type     Type

	BlockSize  uint32
	BlockCount uint64

	Vendor, Product, Revision string

	Ready          bool
	Attention      bool // unit attention pending (power-on/reset/bus-device-reset)
	WriteProtected bool
	Removed        bool
	Locked         bool
	Stopped        bool

	Sense scsi.Sense

	Image image.Handle

	// PacingDelayBytes, if > 0, names the byte count after which
	// SendHandshake should insert DaynaPort-style pacing, per
	// spec.md §4.3. 0 disables pacing.
	PacingDelayBytes int
}

// New returns a LogicalUnit with sensible defaults (ready, no pending
// sense) for the given class.
func New(targetID, lun int, class Type) *LogicalUnit {
	u := &LogicalUnit{
		TargetID: targetID,
		LUN:      lun,
		Type:     class,
		Vendor:   "RASCSI",
		Product:  "Generic",
		Revision: "0010",
		Ready:    class != TypePrinter, // printers have no "ready" concept beyond online.
	}
	if class == TypeDaynaPort {
		u.PacingDelayBytes = 256
	}
	return u
}

// Attach binds an ImageHandle and its geometry to the unit, clearing
// any stale not-ready state and raising unit attention (a medium
// change is reported exactly like a reset, per spec.md §7).
func (u *LogicalUnit) Attach(h image.Handle, blockSize uint32, blockCount uint64) {
	u.Image = h
	u.BlockSize = blockSize
	u.BlockCount = blockCount
	u.Ready = true
	u.Removed = false
	u.raiseAttention()
}

// Detach releases the ImageHandle, if any, and marks the unit
// not-ready.
func (u *LogicalUnit) Detach() error {
	u.Ready = false
	if u.Image == nil {
		return nil
	}
	err := u.Image.Close()
	u.Image = nil
	return err
}

func (u *LogicalUnit) raiseAttention() {
	u.Attention = true
	u.Sense = scsi.Sense{
		Key:  scsi.SenseUnitAttention,
		ASC:  scsi.ASCPowerOnResetOrBusDeviceReset,
		ASCQ: scsi.ASCQPowerOnResetOrBusDeviceReset,
	}
}

// NotifyReset raises unit attention per spec.md §7 (reported once,
// cleared after the initiator acknowledges via any command that is not
// INQUIRY or REQUEST SENSE).
func (u *LogicalUnit) NotifyReset() {
	u.raiseAttention()
}

func paddedString(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}
