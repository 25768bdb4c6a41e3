package lun

import (
	"encoding/binary"

	"github.com/akuker/gscsi/internal/scsi"
)

// modePage renders one mode page (page code + page-specific bytes,
// header included) for pageCode, or nil if u does not support it.
// Page numbering follows original_source's scsi_disk.cpp AddXxxPage
// helpers: 0x01 read-write error recovery, 0x03 format device, 0x04
// rigid disk geometry, 0x08 caching, 0x30 Apple vendor-unique (used by
// old Mac driver stacks to fingerprint a "real" Apple drive).
func modePage(u *LogicalUnit, pageCode byte) []byte {
	switch pageCode {
	case 0x01:
		p := make([]byte, 2+10)
		p[0] = 0x01
		p[1] = 10
		return p
	case 0x02:
		p := make([]byte, 2+6)
		p[0] = 0x02
		p[1] = 6
		return p
	case 0x03:
		p := make([]byte, 2+22)
		p[0] = 0x03
		p[1] = 22
		binary.BigEndian.PutUint16(p[2+10:2+12], 1) // sectors per track, minimal.
		binary.BigEndian.PutUint16(p[2+12:2+14], uint16(u.BlockSize))
		return p
	case 0x04:
		p := make([]byte, 2+22)
		p[0] = 0x04
		p[1] = 22
		cylinders := uint32(0)
		if u.BlockCount > 0 {
			cylinders = uint32(u.BlockCount / 1000)
		}
		p[2] = byte(cylinders >> 16)
		p[3] = byte(cylinders >> 8)
		p[4] = byte(cylinders)
		p[5] = 8 // heads.
		return p
	case 0x08:
		p := make([]byte, 2+10)
		p[0] = 0x08
		p[1] = 10
		return p
	case 0x30:
		p := make([]byte, 2+30)
		p[0] = 0x30
		p[1] = 30
		copy(p[2:], []byte("APPLE COMPUTER, INC   "))
		return p
	default:
		return nil
	}
}

func allModePages(u *LogicalUnit) []byte {
	var out []byte
	for _, code := range []byte{0x01, 0x02, 0x03, 0x04, 0x08, 0x30} {
		out = append(out, modePage(u, code)...)
	}
	return out
}

func pagesFor(u *LogicalUnit, pageCode byte) []byte {
	if pageCode == 0x3F {
		return allModePages(u)
	}
	return modePage(u, pageCode)
}

func handleModeSense6(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	pageCode := cdb[2] & 0x3F
	allocLen := int(cdb[4])

	pages := pagesFor(u, pageCode)
	if pages == nil && pageCode != 0x3F {
		return 0, scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidFieldInCDB, ASCQ: scsi.ASCQInvalidFieldInCDB}, scsi.StatusCheckCondition
	}

	const blockDescLen = 8
	header := make([]byte, 4+blockDescLen)
	header[1] = byte(u.Type.peripheralDeviceType())
	if u.WriteProtected {
		header[2] = 0x80
	}
	header[3] = blockDescLen
	count := u.BlockCount
	if count > 0xFFFFFF {
		count = 0xFFFFFF
	}
	header[4+1] = byte(count >> 16)
	header[4+2] = byte(count >> 8)
	header[4+3] = byte(count)
	header[4+5] = byte(u.BlockSize >> 16)
	header[4+6] = byte(u.BlockSize >> 8)
	header[4+7] = byte(u.BlockSize)

	resp := append(header, pages...)
	resp[0] = byte(len(resp) - 1)

	n := copy(buf, resp)
	if allocLen > 0 && allocLen < n {
		n = allocLen
	}
	return n, scsi.Sense{}, scsi.StatusGood
}

func handleModeSense10(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	pageCode := cdb[2] & 0x3F
	allocLen := int(binary.BigEndian.Uint16(cdb[7:9]))

	pages := pagesFor(u, pageCode)
	if pages == nil && pageCode != 0x3F {
		return 0, scsi.Sense{Key: scsi.SenseIllegalRequest, ASC: scsi.ASCInvalidFieldInCDB, ASCQ: scsi.ASCQInvalidFieldInCDB}, scsi.StatusCheckCondition
	}

	const blockDescLen = 8
	header := make([]byte, 8+blockDescLen)
	header[2] = byte(u.Type.peripheralDeviceType())
	if u.WriteProtected {
		header[3] = 0x80
	}
	binary.BigEndian.PutUint16(header[6:8], blockDescLen)
	header[8+5] = byte(u.BlockSize >> 16)
	header[8+6] = byte(u.BlockSize >> 8)
	header[8+7] = byte(u.BlockSize)

	resp := append(header, pages...)
	binary.BigEndian.PutUint16(resp[0:2], uint16(len(resp)-2))

	n := copy(buf, resp)
	if allocLen > 0 && allocLen < n {
		n = allocLen
	}
	return n, scsi.Sense{}, scsi.StatusGood
}
