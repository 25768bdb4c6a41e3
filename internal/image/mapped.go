package image

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mappedHandle memory-maps the entire backing file MAP_SHARED, with
// PROT_READ plus PROT_WRITE unless Params.ReadOnly is set; reads and
// writes are plain copies against the
// mapped range, and the kernel writes pages back to the file lazily.
// Flush forces that write-back with msync.
//
// Grounded on src_old/raspberrypi/disk_image/mmap_file_handle.cpp;
// the mmap/msync calls are golang.org/x/sys/unix, the same dependency
// the teacher itself imports in cmd/controller/platform_rpi.go for
// unix.Mount/unix.InotifyInit1.
type mappedHandle struct {
	f    *os.File
	data []byte
	p    Params
}

func openMapped(p Params) (Handle, error) {
	flag := os.O_RDWR
	if p.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(p.Path, flag, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	prot := unix.PROT_READ
	if !p.ReadOnly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: mmap: %w", err)
	}
	return &mappedHandle{f: f, data: data, p: p}, nil
}

func (h *mappedHandle) region(block uint64, n int) ([]byte, error) {
	off := h.p.fileOffset(block)
	if off < 0 || off+int64(n) > int64(len(h.data)) {
		return nil, ErrShortIO
	}
	return h.data[off : off+int64(n)], nil
}

func (h *mappedHandle) ReadSector(block uint64, buf []byte) error {
	r, err := h.region(block, len(buf))
	if err != nil {
		return err
	}
	copy(buf, r)
	return nil
}

func (h *mappedHandle) WriteSector(block uint64, buf []byte) error {
	if h.p.ReadOnly {
		return ErrReadOnly
	}
	r, err := h.region(block, len(buf))
	if err != nil {
		return err
	}
	copy(r, buf)
	return nil
}

func (h *mappedHandle) Flush() error {
	if len(h.data) == 0 {
		return nil
	}
	return unix.Msync(h.data, unix.MS_SYNC)
}

func (h *mappedHandle) Close() error {
	err := unix.Munmap(h.data)
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (h *mappedHandle) Params() Params {
	return h.p
}
