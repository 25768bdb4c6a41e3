package lun

import (
	"encoding/binary"

	"github.com/akuker/gscsi/internal/scsi"
)

// handler runs one CDB against a LogicalUnit, filling or consuming buf
// (whichever direction the opcode implies) and returning the number of
// bytes transferred plus failure sense data (ignored on success).
type handler func(u *LogicalUnit, cdb []byte, buf []byte) (transferred int, sense scsi.Sense, status scsi.Status)

var commonHandlers = map[scsi.Opcode]handler{
	scsi.TestUnitReady: handleTestUnitReady,
	scsi.RequestSense:  handleRequestSense,
	scsi.Inquiry:       handleInquiry,
	scsi.ReportLuns:    handleReportLuns,
}

var blockHandlers = map[scsi.Opcode]handler{
	scsi.Read6:             handleRead6,
	scsi.Read10:            handleRead10,
	scsi.Read12:            handleRead12,
	scsi.Read16:            handleRead16,
	scsi.Write6:            handleWrite6,
	scsi.Write10:           handleWrite10,
	scsi.Write12:           handleWrite12,
	scsi.Write16:           handleWrite16,
	scsi.ReadCapacity10:    handleReadCapacity10,
	scsi.ReadCapacity16:    handleReadCapacity16,
	scsi.ModeSense6:        handleModeSense6,
	scsi.ModeSense10:       handleModeSense10,
	scsi.ModeSelect6:       handleModeSelect,
	scsi.ModeSelect10:      handleModeSelect,
	scsi.StartStopUnit:     handleStartStopUnit,
	scsi.PreventAllowRemove: handlePreventAllowRemove,
	scsi.Verify10:          handleVerify,
	scsi.Verify12:          handleVerify,
	scsi.Verify16:          handleVerify,
	scsi.Seek6:             handleNoop,
	scsi.RezeroUnit:        handleNoop,
	scsi.SynchronizeCache10: handleSynchronizeCache,
	scsi.SynchronizeCache16: handleSynchronizeCache,
	scsi.FormatUnit:        handleFormatUnit,
	scsi.ReassignBlocks:    handleNoop,
}

var cdromHandlers = map[scsi.Opcode]handler{
	scsi.ReadTOC: handleReadTOC,
	scsi.GetEventStatusNotification: handleGetEventStatusNotification,
}

var printerHandlers = map[scsi.Opcode]handler{
	scsi.Print:          handlePrint,
	scsi.ReserveUnit:    handleNoop,
	scsi.ReleaseUnit:    handleNoop,
	scsi.SendDiagnostic: handleNoop,
}

// Dispatch runs cdb against u, transferring through buf. It implements
// the sense-retention rule of spec.md §4.4/§7: pending sense is
// cleared on entry of any command other than REQUEST SENSE; a pending
// unit attention is reported exactly once as this command's failure
// (unless the command is INQUIRY or REQUEST SENSE) and then cleared.
func (u *LogicalUnit) Dispatch(cdb []byte, buf []byte) (transferred int, status scsi.Status) {
	op := scsi.Opcode(cdb[0])
	if op != scsi.RequestSense {
		u.Sense = scsi.Sense{}
	}
	if u.Attention && op != scsi.Inquiry && op != scsi.RequestSense {
		u.Attention = false
		u.Sense = scsi.Sense{
			Key:  scsi.SenseUnitAttention,
			ASC:  scsi.ASCPowerOnResetOrBusDeviceReset,
			ASCQ: scsi.ASCQPowerOnResetOrBusDeviceReset,
		}
		return 0, scsi.StatusCheckCondition
	}

	h := u.lookup(op)
	if h == nil {
		u.Sense = scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidCommandOperationCode, ASCQ: scsi.ASCQNone}
		return 0, scsi.StatusCheckCondition
	}
	n, sense, status := h(u, cdb, buf)
	if status != scsi.StatusGood {
		u.Sense = sense
	}
	return n, status
}

func (u *LogicalUnit) lookup(op scsi.Opcode) handler {
	if h, ok := commonHandlers[op]; ok {
		return h
	}
	switch u.Type {
	case TypeCDROM:
		if h, ok := cdromHandlers[op]; ok {
			return h
		}
		if h, ok := blockHandlers[op]; ok {
			return h
		}
	case TypePrinter:
		if h, ok := printerHandlers[op]; ok {
			return h
		}
	case TypeBridge, TypeHostServices, TypeDaynaPort:
		// Bridge/host-services/network devices accept only the common
		// handlers (INQUIRY, TEST UNIT READY, REQUEST SENSE, REPORT
		// LUNS); block I/O opcodes are meaningless on them.
	default:
		if h, ok := blockHandlers[op]; ok {
			return h
		}
	}
	return nil
}

func handleNoop(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleTestUnitReady(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	if !u.Ready || u.Removed {
		return 0, scsi.Sense{Key: scsi.SenseNotReady, ASC: scsi.ASCLogicalUnitNotReady, ASCQ: scsi.ASCQLogicalUnitNotReady}, scsi.StatusCheckCondition
	}
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleRequestSense(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	allocLen := int(cdb[4])
	fixed := u.Sense.FixedFormat()
	n := copy(buf, fixed[:])
	if allocLen > 0 && allocLen < n {
		n = allocLen
	}
	return n, scsi.Sense{}, scsi.StatusGood
}

func handleReportLuns(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	// Minimal single-LUN report: the list holds only this unit's own
	// LUN, not the other units attached under the same target.
	page := make([]byte, 16)
	binary.BigEndian.PutUint32(page[0:4], 8) // LUN list length.
	page[8+7] = byte(u.LUN)
	n := copy(buf, page)
	return n, scsi.Sense{}, scsi.StatusGood
}
