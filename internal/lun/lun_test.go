package lun

import (
	"bytes"
	"testing"

	"github.com/akuker/gscsi/internal/image"
	"github.com/akuker/gscsi/internal/scsi"
)

// memImage is a fake image.Handle backed by a byte slice, used to
// exercise LogicalUnit's dispatch without a real file.
type memImage struct {
	blockSize int
	data      []byte
	closed    bool
}

func newMemImage(blockSize, blocks int) *memImage {
	return &memImage{blockSize: blockSize, data: make([]byte, blockSize*blocks)}
}

func (m *memImage) ReadSector(block uint64, buf []byte) error {
	off := int(block) * m.blockSize
	copy(buf, m.data[off:off+m.blockSize])
	return nil
}

func (m *memImage) WriteSector(block uint64, buf []byte) error {
	off := int(block) * m.blockSize
	copy(m.data[off:off+m.blockSize], buf)
	return nil
}

func (m *memImage) Flush() error { return nil }
func (m *memImage) Close() error { m.closed = true; return nil }
func (m *memImage) Params() image.Params {
	return image.Params{SectorSizeLog2: 9}
}

func newAttachedDisk(t *testing.T) *LogicalUnit {
	t.Helper()
	u := New(0, 0, TypeDisk)
	img := newMemImage(512, 16)
	u.Attach(img, 512, 16)
	return u
}

func TestTestUnitReadyOnAttachedDisk(t *testing.T) {
	u := newAttachedDisk(t)
	u.Attention = false // simulate the initiator already having cleared it.

	n, status := u.Dispatch([]byte{byte(scsi.TestUnitReady), 0, 0, 0, 0, 0}, nil)
	if status != scsi.StatusGood || n != 0 {
		t.Fatalf("got n=%d status=%v, want good/0", n, status)
	}
}

func TestAttachRaisesUnitAttentionOnce(t *testing.T) {
	u := newAttachedDisk(t)

	cdb := []byte{byte(scsi.TestUnitReady), 0, 0, 0, 0, 0}
	n, status := u.Dispatch(cdb, nil)
	if status != scsi.StatusCheckCondition || n != 0 {
		t.Fatalf("first command after attach: got status=%v, want CHECK CONDITION", status)
	}
	if u.Sense.Key != scsi.SenseUnitAttention {
		t.Fatalf("got sense key %v, want UNIT ATTENTION", u.Sense.Key)
	}

	n, status = u.Dispatch(cdb, nil)
	if status != scsi.StatusGood || n != 0 {
		t.Fatalf("second command: got status=%v, want GOOD (attention should have cleared)", status)
	}
}

func TestInquiryBypassesUnitAttention(t *testing.T) {
	u := newAttachedDisk(t)
	buf := make([]byte, 64)

	n, status := u.Dispatch([]byte{byte(scsi.Inquiry), 0, 0, 0, 255, 0}, buf)
	if status != scsi.StatusGood {
		t.Fatalf("INQUIRY got status=%v, want GOOD even with attention pending", status)
	}
	if n < 36 {
		t.Fatalf("INQUIRY returned %d bytes, want at least 36", n)
	}
	if scsi.DeviceType(buf[0]) != scsi.DeviceDisk {
		t.Fatalf("peripheral device type = %#x, want DeviceDisk", buf[0])
	}
	if buf[2] != 0x05 {
		t.Fatalf("ANSI version byte = %#x, want 0x05 (SPC-3)", buf[2])
	}
	if !u.Attention {
		t.Fatalf("INQUIRY must not clear a pending unit attention")
	}
}

func TestRequestSenseReturnsFixedFormat(t *testing.T) {
	u := newAttachedDisk(t)
	buf := make([]byte, 18)

	n, status := u.Dispatch([]byte{byte(scsi.RequestSense), 0, 0, 0, 18, 0}, buf)
	if status != scsi.StatusGood {
		t.Fatalf("REQUEST SENSE got status=%v, want GOOD", status)
	}
	if n != 18 || buf[0] != 0x70 {
		t.Fatalf("unexpected sense buffer: n=%d buf[0]=%#x", n, buf[0])
	}
	if scsi.SenseKey(buf[2]) != scsi.SenseUnitAttention {
		t.Fatalf("sense key = %#x, want UNIT ATTENTION", buf[2])
	}
}

func TestUnknownOpcodeReportsIllegalRequest(t *testing.T) {
	u := newAttachedDisk(t)
	u.Attention = false

	n, status := u.Dispatch([]byte{0xFF, 0, 0, 0, 0, 0}, nil)
	if status != scsi.StatusCheckCondition || n != 0 {
		t.Fatalf("got n=%d status=%v, want CHECK CONDITION", n, status)
	}
	if u.Sense.Key != scsi.SenseIllegalRequest || u.Sense.ASC != scsi.ASCInvalidCommandOperationCode {
		t.Fatalf("got sense %+v, want ILLEGAL REQUEST/INVALID COMMAND OPERATION CODE", u.Sense)
	}
}

func TestRead10RoundTripsWriteData(t *testing.T) {
	u := newAttachedDisk(t)
	u.Attention = false

	want := bytes.Repeat([]byte{0x5A}, 512)
	writeCDB := []byte{byte(scsi.Write10), 0, 0, 0, 0, 1, 0, 0, 1, 0}
	if n, status := u.Dispatch(writeCDB, want); status != scsi.StatusGood || n != 512 {
		t.Fatalf("WRITE(10) got n=%d status=%v", n, status)
	}

	readCDB := []byte{byte(scsi.Read10), 0, 0, 0, 0, 1, 0, 0, 1, 0}
	got := make([]byte, 512)
	if n, status := u.Dispatch(readCDB, got); status != scsi.StatusGood || n != 512 {
		t.Fatalf("READ(10) got n=%d status=%v", n, status)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read-after-write mismatch")
	}
}

func TestReadOnNotReadyDiskReportsNotReady(t *testing.T) {
	u := New(0, 0, TypeDisk)
	u.Attention = false

	n, status := u.Dispatch([]byte{byte(scsi.Read10), 0, 0, 0, 0, 0, 0, 0, 1, 0}, make([]byte, 512))
	if status != scsi.StatusCheckCondition || n != 0 {
		t.Fatalf("got n=%d status=%v, want CHECK CONDITION", n, status)
	}
	if u.Sense.Key != scsi.SenseNotReady {
		t.Fatalf("got sense key %v, want NOT READY", u.Sense.Key)
	}
}

func TestReadCapacity10(t *testing.T) {
	u := newAttachedDisk(t)
	u.Attention = false

	buf := make([]byte, 8)
	n, status := u.Dispatch([]byte{byte(scsi.ReadCapacity10), 0, 0, 0, 0, 0, 0, 0, 0, 0}, buf)
	if status != scsi.StatusGood || n != 8 {
		t.Fatalf("got n=%d status=%v", n, status)
	}
	lastLBA := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	if lastLBA != 15 {
		t.Fatalf("last LBA = %d, want 15 (16 blocks)", lastLBA)
	}
	blockLen := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	if blockLen != 512 {
		t.Fatalf("block length = %d, want 512", blockLen)
	}
}

func TestModeSense6ReturnsRequestedPage(t *testing.T) {
	u := newAttachedDisk(t)
	u.Attention = false

	buf := make([]byte, 64)
	cdb := []byte{byte(scsi.ModeSense6), 0, 0x08, 0, 255, 0} // page 0x08: caching.
	n, status := u.Dispatch(cdb, buf)
	if status != scsi.StatusGood {
		t.Fatalf("MODE SENSE(6) got status=%v", status)
	}
	if n < 4 {
		t.Fatalf("response too short: %d", n)
	}
	// Byte 0 is mode data length; header + page must match n-1.
	if int(buf[0]) != n-1 {
		t.Fatalf("mode data length = %d, want %d", buf[0], n-1)
	}
}

func TestDetachClosesImage(t *testing.T) {
	u := newAttachedDisk(t)
	img := u.Image.(*memImage)

	if err := u.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if !img.closed {
		t.Fatalf("Detach must close the underlying ImageHandle")
	}
	if u.Ready {
		t.Fatalf("Detach must clear Ready")
	}
}
