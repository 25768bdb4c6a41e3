package image

import (
	"fmt"

	"github.com/akuker/gscsi/internal/trackcache"
)

// cachedHandle is a Raw handle with a trackcache.Cache in front of it.
// Grounded on original_source's DiskCache variant (named in
// disk_image_handle_factory.cpp) which layers the track cache over a
// plain file handle exactly this way.
type cachedHandle struct {
	raw   *rawHandle
	cache *trackcache.Cache
	p     Params
}

func openCached(p Params) (Handle, error) {
	h, err := openRaw(p)
	if err != nil {
		return nil, err
	}
	raw := h.(*rawHandle)
	sectorSize := p.SectorSize()
	blocksPerTrack := p.BlocksPerTrack
	if blocksPerTrack == 0 {
		blocksPerTrack = 1
	}
	c := &cachedHandle{raw: raw, p: p}
	c.cache = trackcache.New((*cachedBackend)(c), sectorSize, blocksPerTrack, trackcache.DefaultSlots)
	return c, nil
}

// cachedBackend adapts cachedHandle's rawHandle to trackcache.Backend,
// reading/writing a whole track of sectors in one call.
type cachedBackend cachedHandle

func (b *cachedBackend) ReadTrack(track uint64, buf []byte) error {
	h := (*cachedHandle)(b)
	sectorSize := h.p.SectorSize()
	blocksPerTrack := uint64(h.p.BlocksPerTrack)
	if blocksPerTrack == 0 {
		blocksPerTrack = 1
	}
	for i := uint64(0); i < blocksPerTrack; i++ {
		block := track*blocksPerTrack + i
		off := int(i) * sectorSize
		if err := h.raw.ReadSector(block, buf[off:off+sectorSize]); err != nil {
			return fmt.Errorf("image: read sector %d: %w", block, err)
		}
	}
	return nil
}

func (b *cachedBackend) WriteTrack(track uint64, buf []byte) error {
	h := (*cachedHandle)(b)
	sectorSize := h.p.SectorSize()
	blocksPerTrack := uint64(h.p.BlocksPerTrack)
	if blocksPerTrack == 0 {
		blocksPerTrack = 1
	}
	for i := uint64(0); i < blocksPerTrack; i++ {
		block := track*blocksPerTrack + i
		off := int(i) * sectorSize
		if err := h.raw.WriteSector(block, buf[off:off+sectorSize]); err != nil {
			return fmt.Errorf("image: write sector %d: %w", block, err)
		}
	}
	return nil
}

func (h *cachedHandle) ReadSector(block uint64, buf []byte) error {
	return h.cache.ReadSector(block, buf)
}

func (h *cachedHandle) WriteSector(block uint64, buf []byte) error {
	if h.p.ReadOnly {
		return ErrReadOnly
	}
	return h.cache.WriteSector(block, buf)
}

func (h *cachedHandle) Flush() error {
	return h.cache.FlushAll()
}

func (h *cachedHandle) Close() error {
	if err := h.cache.FlushAll(); err != nil {
		h.raw.Close()
		return err
	}
	return h.raw.Close()
}

func (h *cachedHandle) Params() Params {
	return h.p
}
