package image

import "os"

// rawHandle issues one pread/pwrite per sector via os.File's *At
// methods, which already carry pread/pwrite semantics against a
// shared, un-seeked file descriptor. No in-process caching.
//
// Grounded on original_source src/raspberrypi/file_access/
// posix_file_access.cpp.
type rawHandle struct {
	f  *os.File
	p  Params
}

func openRaw(p Params) (Handle, error) {
	flag := os.O_RDWR
	if p.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(p.Path, flag, 0)
	if err != nil {
		return nil, err
	}
	return &rawHandle{f: f, p: p}, nil
}

func (h *rawHandle) ReadSector(block uint64, buf []byte) error {
	n, err := h.f.ReadAt(buf, h.p.fileOffset(block))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortIO
	}
	return nil
}

func (h *rawHandle) WriteSector(block uint64, buf []byte) error {
	if h.p.ReadOnly {
		return ErrReadOnly
	}
	n, err := h.f.WriteAt(buf, h.p.fileOffset(block))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortIO
	}
	return nil
}

func (h *rawHandle) Flush() error {
	return h.f.Sync()
}

func (h *rawHandle) Close() error {
	return h.f.Close()
}

func (h *rawHandle) Params() Params {
	return h.p
}
