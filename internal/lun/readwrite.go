package lun

import (
	"encoding/binary"

	"github.com/akuker/gscsi/internal/scsi"
)

func notReadySense() scsi.Sense {
	return scsi.Sense{Key: scsi.SenseNotReady, ASC: scsi.ASCLogicalUnitNotReady, ASCQ: scsi.ASCQLogicalUnitNotReady}
}

func (u *LogicalUnit) checkReady() (scsi.Sense, bool) {
	if !u.Ready || u.Image == nil || u.Removed {
		return notReadySense(), false
	}
	return scsi.Sense{}, true
}

func lba6(cdb []byte) uint64 {
	return uint64(cdb[1]&0x1f)<<16 | uint64(cdb[2])<<8 | uint64(cdb[3])
}

func len6(cdb []byte) uint32 {
	n := uint32(cdb[4])
	if n == 0 {
		return 256
	}
	return n
}

func lba10(cdb []byte) uint64 { return uint64(binary.BigEndian.Uint32(cdb[2:6])) }
func len10(cdb []byte) uint32 { return uint32(binary.BigEndian.Uint16(cdb[7:9])) }

func lba12(cdb []byte) uint64 { return uint64(binary.BigEndian.Uint32(cdb[2:6])) }
func len12(cdb []byte) uint32 { return binary.BigEndian.Uint32(cdb[6:10]) }

func lba16(cdb []byte) uint64 { return binary.BigEndian.Uint64(cdb[2:10]) }
func len16(cdb []byte) uint32 { return binary.BigEndian.Uint32(cdb[10:14]) }

func (u *LogicalUnit) readBlocks(lba uint64, count uint32, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	bs := int(u.BlockSize)
	total := int(count) * bs
	if total > len(buf) {
		total = len(buf)
	}
	for i := 0; i < total/bs; i++ {
		if err := u.Image.ReadSector(lba+uint64(i), buf[i*bs:(i+1)*bs]); err != nil {
			return i * bs, scsi.Sense{Key: scsi.SenseMediumError, ASC: scsi.ASCUnrecoveredReadError, ASCQ: scsi.ASCQUnrecoveredReadError}, scsi.StatusCheckCondition
		}
	}
	return total, scsi.Sense{}, scsi.StatusGood
}

func (u *LogicalUnit) writeBlocks(lba uint64, count uint32, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	if u.WriteProtected {
		return 0, scsi.Sense{Key: scsi.SenseDataProtect}, scsi.StatusCheckCondition
	}
	bs := int(u.BlockSize)
	total := int(count) * bs
	if total > len(buf) {
		total = len(buf)
	}
	for i := 0; i < total/bs; i++ {
		if err := u.Image.WriteSector(lba+uint64(i), buf[i*bs:(i+1)*bs]); err != nil {
			return i * bs, scsi.Sense{Key: scsi.SenseMediumError, ASC: scsi.ASCWriteError, ASCQ: scsi.ASCQWriteError}, scsi.StatusCheckCondition
		}
	}
	return total, scsi.Sense{}, scsi.StatusGood
}

func handleRead6(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.readBlocks(lba6(cdb), len6(cdb), buf)
}
func handleRead10(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.readBlocks(lba10(cdb), len10(cdb), buf)
}
func handleRead12(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.readBlocks(lba12(cdb), len12(cdb), buf)
}
func handleRead16(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.readBlocks(lba16(cdb), len16(cdb), buf)
}

func handleWrite6(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.writeBlocks(lba6(cdb), len6(cdb), buf)
}
func handleWrite10(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.writeBlocks(lba10(cdb), len10(cdb), buf)
}
func handleWrite12(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.writeBlocks(lba12(cdb), len12(cdb), buf)
}
func handleWrite16(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return u.writeBlocks(lba16(cdb), len16(cdb), buf)
}

func handleVerify(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleSynchronizeCache(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if u.Image == nil {
		return 0, scsi.Sense{}, scsi.StatusGood
	}
	if err := u.Image.Flush(); err != nil {
		return 0, scsi.Sense{Key: scsi.SenseMediumError, ASC: scsi.ASCWriteError, ASCQ: scsi.ASCQWriteError}, scsi.StatusCheckCondition
	}
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleFormatUnit(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleReadCapacity10(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	resp := make([]byte, 8)
	lastLBA := uint32(0)
	if u.BlockCount > 0 {
		lastLBA = uint32(u.BlockCount - 1)
	}
	binary.BigEndian.PutUint32(resp[0:4], lastLBA)
	binary.BigEndian.PutUint32(resp[4:8], u.BlockSize)
	n := copy(buf, resp)
	return n, scsi.Sense{}, scsi.StatusGood
}

func handleReadCapacity16(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	resp := make([]byte, 32)
	lastLBA := uint64(0)
	if u.BlockCount > 0 {
		lastLBA = u.BlockCount - 1
	}
	binary.BigEndian.PutUint64(resp[0:8], lastLBA)
	binary.BigEndian.PutUint32(resp[8:12], u.BlockSize)
	n := copy(buf, resp)
	return n, scsi.Sense{}, scsi.StatusGood
}

func handleStartStopUnit(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	start := cdb[4]&0x01 != 0
	loej := cdb[4]&0x02 != 0
	if !start {
		u.Stopped = true
		if loej && u.Type.removable() {
			if u.Locked {
				return 0, scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidFieldInCDB, ASCQ: scsi.ASCQInvalidFieldInCDB}, scsi.StatusCheckCondition
			}
			u.Removed = true
			u.Ready = false
		}
		return 0, scsi.Sense{}, scsi.StatusGood
	}
	u.Stopped = false
	if loej {
		u.Removed = false
	}
	if u.Image != nil {
		u.Ready = true
	}
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handlePreventAllowRemove(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	u.Locked = cdb[4]&0x01 != 0
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleModeSelect(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	// Mode parameters are accepted but not interpreted: nothing in the
	// emulated device set exposes writable mode pages that change
	// behavior.
	return 0, scsi.Sense{}, scsi.StatusGood
}

func handleReadTOC(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	if sense, ok := u.checkReady(); !ok {
		return 0, sense, scsi.StatusCheckCondition
	}
	resp := make([]byte, 20)
	binary.BigEndian.PutUint16(resp[0:2], 18)
	resp[2] = 1 // first track
	resp[3] = 1 // last track
	// Track descriptor for track 1.
	resp[4+1] = 0x14 // ADR/control: data track.
	resp[4+2] = 1    // track number.
	// Track descriptor for the lead-out (track 0xAA).
	resp[12+1] = 0x14
	resp[12+2] = 0xAA
	n := copy(buf, resp)
	return n, scsi.Sense{}, scsi.StatusGood
}

func handleGetEventStatusNotification(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	resp := make([]byte, 8)
	binary.BigEndian.PutUint16(resp[0:2], 4)
	resp[2] = 0x04 // NEA bit plus no-event-class bits: nothing pending.
	n := copy(buf, resp)
	return n, scsi.Sense{}, scsi.StatusGood
}

func handlePrint(u *LogicalUnit, cdb, buf []byte) (int, scsi.Sense, scsi.Status) {
	return 0, scsi.Sense{}, scsi.StatusGood
}
