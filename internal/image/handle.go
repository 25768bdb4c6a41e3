// Package image implements the ImageHandle abstraction of
// SPEC_FULL.md §4.6: a pluggable per-device access layer over a
// backing image file, with Raw (one syscall per sector), Mapped (mmap
// + memcpy), and Cached (TrackCache in front of Raw) variants, plus
// the CD-raw sector-mapping and extension-hint catalog of spec.md §6.
//
// Grounded on original_source's file_access.h / posix_file_access.cpp
// (Raw), src_old's mmap_file_handle.cpp (Mapped), and
// disk_image_handle_factory.cpp (the factory choosing among variants).
package image

import (
	"errors"
	"fmt"
)

// Mode selects which ImageHandle variant backs a LogicalUnit.
type Mode int

const (
	Raw Mode = iota
	Mapped
	Cached
)

// Params describes a backing image file's fixed geometry.
type Params struct {
	Path           string
	SectorSizeLog2 uint // e.g. 9 for 512-byte sectors.
	BlocksPerTrack uint32
	ImageOffset    int64
	CDRaw          bool // treat the image as 2352-byte raw CD sectors.
	ReadOnly       bool
}

func (p Params) SectorSize() int {
	return 1 << p.SectorSizeLog2
}

// cdRawSectorSize is the physical sector size of a raw-mode CD image;
// user data begins at cdRawDataOffset and a 288-byte trailer follows
// it, per spec.md §4.6.
const (
	cdRawSectorSize  = 2352
	cdRawDataOffset  = 16
	cdRawTrailerSize = 288
)

// Handle is the ImageHandle contract: sector-granular reads and writes
// against a backing file, plus a flush for variants that buffer
// writes.
type Handle interface {
	ReadSector(block uint64, buf []byte) error
	WriteSector(block uint64, buf []byte) error
	Flush() error
	Close() error
	Params() Params
}

var (
	// ErrReadOnly is returned by WriteSector on a write-protected
	// image.
	ErrReadOnly = errors.New("image: write to read-only image")
	// ErrShortIO reports a short pread/pwrite, the fatal I/O error
	// condition spec.md §4.7 maps to MEDIUM ERROR / write-failure
	// sense data.
	ErrShortIO = errors.New("image: short read or write")
)

// Open constructs the ImageHandle variant named by mode, following the
// factory shape of original_source's DiskImageHandleFactory.
func Open(mode Mode, p Params) (Handle, error) {
	switch mode {
	case Raw:
		return openRaw(p)
	case Mapped:
		return openMapped(p)
	case Cached:
		return openCached(p)
	default:
		return nil, fmt.Errorf("image: unknown mode %d", mode)
	}
}

// fileOffset computes the backing-file byte offset for a logical
// sector, honoring CDRaw's fixed 2352-byte physical sector size and
// 16-byte data header.
func (p Params) fileOffset(block uint64) int64 {
	if p.CDRaw {
		return p.ImageOffset + int64(block)*cdRawSectorSize + cdRawDataOffset
	}
	return p.ImageOffset + int64(block)*int64(p.SectorSize())
}

// physicalSectorSize is the stride between consecutive sectors in the
// backing file: for CDRaw images this is the full 2352-byte physical
// sector even though only SectorSize() bytes of it are user data.
func (p Params) physicalSectorSize() int64 {
	if p.CDRaw {
		return cdRawSectorSize
	}
	return int64(p.SectorSize())
}
