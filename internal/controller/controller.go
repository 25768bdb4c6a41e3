// Package controller implements the per-target phase state machine of
// SPEC_FULL.md §4.4: Selection through Command, Data, Status and MsgIn,
// dispatching each CDB to the addressed LogicalUnit and driving the Bus
// handshakes that move bytes across the wire.
//
// Grounded on original_source src/raspberrypi/controllers/controller.h
// (the ctrl_t state struct and its phase-handler methods), split here
// per spec.md §9's resolution: buffer ownership and transfer-progress
// fields live on Controller, while identity and sense state live on the
// LogicalUnit it dispatches to.
package controller

import (
	"log"

	"github.com/akuker/gscsi/internal/bus"
	"github.com/akuker/gscsi/internal/gpio"
	"github.com/akuker/gscsi/internal/lun"
	"github.com/akuker/gscsi/internal/scsi"
)

// MaxLUNs is the number of logical units a target may expose, per
// spec.md §3.
const MaxLUNs = 32

// MaxCDBLen is the longest CDB this controller accepts (a 16-byte CDB).
const MaxCDBLen = 16

// transferBufSize bounds a single DataIn/DataOut phase (1 MiB). A CDB
// whose length field asks for more than this is rejected with
// transferTooLargeSense rather than streamed.
const transferBufSize = 1 << 20

// Controller owns one SCSI target ID's bus-facing state machine and the
// logical units addressable under it.
type Controller struct {
	TargetID int
	Bus      *bus.Bus
	Units    [MaxLUNs]*lun.LogicalUnit

	initiatorID int
	selectedLUN int
	cdb         [MaxCDBLen]byte
	buf         []byte
}

// New returns a Controller for targetID driving b, with no units
// attached.
func New(targetID int, b *bus.Bus) *Controller {
	return &Controller{
		TargetID: targetID,
		Bus:      b,
		buf:      make([]byte, transferBufSize),
	}
}

// Attach installs unit at the given LUN slot (0..MaxLUNs-1).
func (c *Controller) Attach(lunNum int, unit *lun.LogicalUnit) {
	c.Units[lunNum] = unit
}

// NotifyReset propagates a bus reset to every attached unit, per
// spec.md §5: sense/reservation state does not survive RST.
func (c *Controller) NotifyReset() {
	for _, u := range c.Units {
		if u != nil {
			u.NotifyReset()
		}
	}
}

// Selected reports whether the current Selection-phase DAT byte
// addresses this controller's TargetID.
func (c *Controller) Selected(dat byte) bool {
	return dat&(1<<uint(c.TargetID)) != 0
}

// HandleSelection runs the Selection phase after the caller has
// observed Phase()==Selection with this controller's ID bit asserted
// on DAT: it asserts BSY within the response window and waits for the
// initiator to drop SEL. The initiator's ID bit is recorded in
// initiatorID; nothing else in the controller reads it.
func (c *Controller) HandleSelection() bool {
	snap := c.Bus.Pins.Acquire()
	dat := snap.Dat
	c.initiatorID = -1
	for i := 0; i < 8; i++ {
		if i != c.TargetID && dat&(1<<uint(i)) != 0 {
			c.initiatorID = i
			break
		}
	}
	c.Bus.Pins.Set(gpio.BSY, true)
	for {
		s := c.Bus.Pins.Acquire()
		if !s.Get(gpio.SEL) {
			break
		}
		if s.Get(gpio.RST) {
			c.Bus.Pins.Set(gpio.BSY, false)
			c.NotifyReset()
			return false
		}
	}
	return true
}

// RunCommand drives one full Selection-to-BusFree command cycle: an
// optional MsgOut/IDENTIFY (only if the initiator held ATN through
// Selection), the Command phase CDB read, the Data phase the opcode
// implies, Status, and command-complete MsgIn. It returns when the bus
// returns to BusFree (normal completion) or a reset aborts the
// transfer.
func (c *Controller) RunCommand() {
	if c.Bus.Pins.Get(gpio.ATN) {
		c.Bus.SetPhase(bus.MsgOut)
		if !c.messageOut() {
			c.Bus.Pins.Set(gpio.BSY, false)
			c.checkReset()
			return
		}
	}

	c.Bus.SetPhase(bus.Command)
	n := c.Bus.CommandHandshake(c.cdb[:])
	if n == 0 {
		if c.checkReset() {
			return
		}
		c.reportIllegalCommand()
		return
	}
	if n < scsi.CDBLength(scsi.Opcode(c.cdb[0])) {
		if c.checkReset() {
			return
		}
		c.failWithSense(c.currentUnit(), abortedCommandSense())
		return
	}

	unit := c.currentUnit()
	if unit == nil {
		c.sendStatusAndComplete(scsi.StatusCheckCondition)
		return
	}

	op := scsi.Opcode(c.cdb[0])
	cdb := c.cdb[:n]

	var status scsi.Status
	switch dataDirection(op) {
	case -1:
		// Data flows initiator-to-device: receive it before the unit
		// can act on it.
		want := expectedDataOutLen(op, cdb, unit)
		if want > len(c.buf) {
			c.failWithSense(unit, transferTooLargeSense())
			return
		}
		c.Bus.SetPhase(bus.DataOut)
		received := c.Bus.ReceiveHandshake(c.buf[:want])
		if received < want {
			if c.checkReset() {
				return
			}
			c.failWithSense(unit, abortedCommandSense())
			return
		}
		_, status = unit.Dispatch(cdb, c.buf[:received])
	case 1:
		// Data flows device-to-initiator: the unit fills the buffer,
		// then it goes out over DataIn.
		want := expectedDataInLen(op, cdb, unit)
		if want > len(c.buf) {
			c.failWithSense(unit, transferTooLargeSense())
			return
		}
		var transferred int
		transferred, status = unit.Dispatch(cdb, c.buf)
		c.Bus.SetPhase(bus.DataIn)
		sent := c.Bus.SendHandshake(c.buf[:transferred], c.pacingDelay())
		if sent < transferred && status == scsi.StatusGood {
			if c.checkReset() {
				return
			}
			c.failWithSense(unit, abortedCommandSense())
			return
		}
	default:
		_, status = unit.Dispatch(cdb, c.buf)
	}
	c.sendStatusAndComplete(status)
}

// checkReset reports whether RST is asserted and, if so, abandons the
// command without a status phase: per spec.md §5, a bus reset aborts
// whatever is in flight and returns the bus straight to BusFree rather
// than completing normally.
func (c *Controller) checkReset() bool {
	if !c.Bus.ResetAsserted() {
		return false
	}
	c.NotifyReset()
	c.Bus.Pins.Set(gpio.BSY, false)
	c.selectedLUN = 0
	return true
}

// transferTooLargeSense is reported when a CDB's transfer length would
// exceed the controller's single-phase buffer: a large but otherwise
// valid request (e.g. a WRITE10 near the 16-bit block-count limit),
// not a malformed one, so it is rejected cleanly instead of panicking
// on an out-of-range slice or silently truncating the transfer.
func transferTooLargeSense() scsi.Sense {
	return scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidFieldInCDB, ASCQ: scsi.ASCQInvalidFieldInCDB}
}

// abortedCommandSense is reported when a handshake transfers fewer
// bytes than the CDB's own length field promised, per spec.md §7's
// "bus transient / short transfer" path.
func abortedCommandSense() scsi.Sense {
	return scsi.Sense{Key: scsi.SenseAbortedCommand, ASC: scsi.ASCNoAdditionalSenseInfo, ASCQ: scsi.ASCQNone}
}

func (c *Controller) failWithSense(u *lun.LogicalUnit, sense scsi.Sense) {
	if u != nil {
		u.Sense = sense
	}
	c.sendStatusAndComplete(scsi.StatusCheckCondition)
}

// expectedDataOutLen computes how many bytes a DataOut phase should
// transfer for op, in bytes: WRITE commands scale by the unit's block
// size, MODE SELECT carries its own parameter-list length in the CDB.
func expectedDataOutLen(op scsi.Opcode, cdb []byte, u *lun.LogicalUnit) int {
	switch op {
	case scsi.Write6:
		return int(transferCount6(cdb)) * int(u.BlockSize)
	case scsi.Write10:
		return int(transferCount10(cdb)) * int(u.BlockSize)
	case scsi.Write12:
		return int(transferCount12(cdb)) * int(u.BlockSize)
	case scsi.Write16:
		return int(transferCount16(cdb)) * int(u.BlockSize)
	case scsi.ModeSelect6:
		return int(cdb[4])
	case scsi.ModeSelect10:
		return int(cdb[7])<<8 | int(cdb[8])
	default:
		return 0
	}
}

// expectedDataInLen computes how many bytes a DataIn phase should
// transfer for op, in bytes, for the opcodes whose transfer length
// scales with the unit's block size (READ*). Other DataIn opcodes
// (INQUIRY, MODE SENSE, REPORT LUNS, ...) return fixed small responses
// that always fit the controller's buffer, so they report 0 here and
// are not bounds-checked against it.
func expectedDataInLen(op scsi.Opcode, cdb []byte, u *lun.LogicalUnit) int {
	switch op {
	case scsi.Read6:
		return int(transferCount6(cdb)) * int(u.BlockSize)
	case scsi.Read10:
		return int(transferCount10(cdb)) * int(u.BlockSize)
	case scsi.Read12:
		return int(transferCount12(cdb)) * int(u.BlockSize)
	case scsi.Read16:
		return int(transferCount16(cdb)) * int(u.BlockSize)
	default:
		return 0
	}
}

func transferCount6(cdb []byte) uint32 {
	if cdb[4] == 0 {
		return 256
	}
	return uint32(cdb[4])
}
func transferCount10(cdb []byte) uint32 { return uint32(cdb[7])<<8 | uint32(cdb[8]) }
func transferCount12(cdb []byte) uint32 {
	return uint32(cdb[6])<<24 | uint32(cdb[7])<<16 | uint32(cdb[8])<<8 | uint32(cdb[9])
}
func transferCount16(cdb []byte) uint32 {
	return uint32(cdb[10])<<24 | uint32(cdb[11])<<16 | uint32(cdb[12])<<8 | uint32(cdb[13])
}

// messageOut drains the MsgOut phase. It recognizes IDENTIFY (recording
// the addressed LUN), ABORT and BUS DEVICE RESET (propagated as a reset
// to every attached unit), and rejects anything else with MESSAGE
// REJECT. Returns false if the message aborted the command cycle
// outright.
func (c *Controller) messageOut() bool {
	var msg [1]byte
	if n := c.Bus.ReceiveHandshake(msg[:]); n == 0 {
		return false
	}
	switch {
	case msg[0]&scsi.MsgIdentifyLUNBit != 0:
		c.selectedLUN = int(msg[0] & scsi.MsgIdentifyLUNMask)
		return true
	case scsi.Message(msg[0]) == scsi.MsgAbort:
		return false
	case scsi.Message(msg[0]) == scsi.MsgBusDeviceReset:
		c.NotifyReset()
		return false
	default:
		c.Bus.SetPhase(bus.MsgIn)
		reject := [1]byte{byte(scsi.MsgReject)}
		c.Bus.SendHandshake(reject[:], bus.SendNoDelay)
		c.Bus.SetPhase(bus.MsgOut)
		return true
	}
}

func (c *Controller) currentUnit() *lun.LogicalUnit {
	if c.selectedLUN < 0 || c.selectedLUN >= MaxLUNs {
		return c.Units[0]
	}
	return c.Units[c.selectedLUN]
}

// dataDirection reports which data phase op implies: 1 for DataIn
// (device-to-initiator), -1 for DataOut (initiator-to-device), 0 for
// commands with no data phase.
func dataDirection(op scsi.Opcode) int {
	switch op {
	case scsi.Read6, scsi.Read10, scsi.Read12, scsi.Read16,
		scsi.Inquiry, scsi.RequestSense,
		scsi.ModeSense6, scsi.ModeSense10,
		scsi.ReadCapacity10, scsi.ReadCapacity16,
		scsi.ReadTOC, scsi.GetEventStatusNotification,
		scsi.ReportLuns:
		return 1
	case scsi.Write6, scsi.Write10, scsi.Write12, scsi.Write16,
		scsi.ModeSelect6, scsi.ModeSelect10: // scsi.Print shares Write6's opcode.
		return -1
	default:
		return 0
	}
}

func (c *Controller) pacingDelay() int {
	if u := c.currentUnit(); u != nil && u.PacingDelayBytes > 0 {
		return u.PacingDelayBytes
	}
	return bus.SendNoDelay
}

func (c *Controller) reportIllegalCommand() {
	log.Printf("controller: target %d: unrecognized or truncated CDB", c.TargetID)
	if u := c.currentUnit(); u != nil {
		u.Sense = scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidCommandOperationCode, ASCQ: scsi.ASCQNone}
	}
	c.sendStatusAndComplete(scsi.StatusCheckCondition)
}

func (c *Controller) sendStatusAndComplete(status scsi.Status) {
	c.Bus.SetPhase(bus.Status)
	s := [1]byte{byte(status)}
	c.Bus.SendHandshake(s[:], bus.SendNoDelay)

	c.Bus.SetPhase(bus.MsgIn)
	m := [1]byte{byte(scsi.MsgCommandComplete)}
	c.Bus.SendHandshake(m[:], bus.SendNoDelay)

	c.Bus.Pins.Set(gpio.BSY, false)
	c.selectedLUN = 0
}
