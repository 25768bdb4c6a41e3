package lun

import "github.com/akuker/gscsi/internal/scsi"

// handleInquiry builds the standard 36-byte INQUIRY response described
// in spec.md's scenario walkthrough: peripheral device type in byte 0,
// the removable-media bit in byte 1, ANSI version SPC-3 in byte 2,
// response data format 2 in byte 3, additional length in byte 4, and
// padded vendor/product/revision strings from byte 8 on.
func handleInquiry(u *LogicalUnit, cdb []byte, buf []byte) (int, scsi.Sense, scsi.Status) {
	allocLen := int(cdb[4])

	resp := make([]byte, 36)
	resp[0] = byte(u.Type.peripheralDeviceType())
	if u.Type.removable() {
		resp[1] = 0x80
	}
	resp[2] = 0x05 // ANSI version: SPC-3.
	resp[3] = 0x02 // response data format 2.
	resp[4] = byte(len(resp) - 5)
	copy(resp[8:16], paddedString(u.Vendor, 8))
	copy(resp[16:32], paddedString(u.Product, 16))
	copy(resp[32:36], paddedString(u.Revision, 4))

	if u.Removed {
		resp[0] = byte(scsi.DeviceNoLUN)
	}

	n := copy(buf, resp)
	if allocLen > 0 && allocLen < n {
		n = allocLen
	}
	return n, scsi.Sense{}, scsi.StatusGood
}
