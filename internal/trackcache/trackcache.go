// Package trackcache implements the track-granular write-back cache of
// SPEC_FULL.md §4.7: a fixed-capacity set of track slots, at most one
// per track number, with LRU eviction (flushing dirty slots before
// reuse) and an explicit FlushAll that writes every dirty slot back in
// track order.
//
// Grounded on original_source's DiskCache variant named in
// cpp/disk_image/disk_image_handle_factory.cpp and the GetCache
// introspection method of file_access.h, carried over as Stat.
package trackcache

import "fmt"

// Backend is the narrow interface TrackCache needs from whatever
// stores whole tracks — in practice an image.Handle's Raw/Mapped
// variant, read and written a full track at a time.
type Backend interface {
	// ReadTrack reads blocksPerTrack sectors of sectorSize bytes each
	// starting at trackNumber*blocksPerTrack into buf.
	ReadTrack(trackNumber uint64, buf []byte) error
	// WriteTrack writes buf back to the same region.
	WriteTrack(trackNumber uint64, buf []byte) error
}

// DefaultSlots is the default fixed slot count named in spec.md §4.7.
const DefaultSlots = 16

type slot struct {
	track    uint64
	valid    bool
	dirty    bool
	serial   uint64
	buf      []byte
}

// Cache is a fixed-capacity, track-granular write-back cache in front
// of a Backend. It is single-threaded per spec.md §4.7: callers must
// not share a Cache across controllers.
type Cache struct {
	backend        Backend
	sectorSize     int
	blocksPerTrack uint32
	slots          []slot
	serial         uint64
}

// New returns a Cache with the given slot count (spec.md default 16)
// over backend, whose tracks are blocksPerTrack sectors of sectorSize
// bytes.
func New(backend Backend, sectorSize int, blocksPerTrack uint32, slots int) *Cache {
	if slots <= 0 {
		slots = DefaultSlots
	}
	c := &Cache{
		backend:        backend,
		sectorSize:     sectorSize,
		blocksPerTrack: blocksPerTrack,
		slots:          make([]slot, slots),
	}
	trackBytes := sectorSize * int(blocksPerTrack)
	for i := range c.slots {
		c.slots[i].buf = make([]byte, trackBytes)
	}
	return c
}

func (c *Cache) trackOf(block uint64) (track uint64, sectorInTrack uint32) {
	track = block / uint64(c.blocksPerTrack)
	sectorInTrack = uint32(block % uint64(c.blocksPerTrack))
	return
}

// find returns the slot index holding track, or -1.
func (c *Cache) find(track uint64) int {
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].track == track {
			return i
		}
	}
	return -1
}

// ReadSector copies the sector at block into buf, loading its track on
// a miss.
func (c *Cache) ReadSector(block uint64, buf []byte) error {
	idx, err := c.resolve(block)
	if err != nil {
		return err
	}
	_, sectorInTrack := c.trackOf(block)
	off := int(sectorInTrack) * c.sectorSize
	copy(buf, c.slots[idx].buf[off:off+c.sectorSize])
	c.serial++
	c.slots[idx].serial = c.serial
	return nil
}

// WriteSector writes buf into the sector at block, loading its track
// on a miss and marking the slot dirty.
func (c *Cache) WriteSector(block uint64, buf []byte) error {
	idx, err := c.resolve(block)
	if err != nil {
		return err
	}
	_, sectorInTrack := c.trackOf(block)
	off := int(sectorInTrack) * c.sectorSize
	copy(c.slots[idx].buf[off:off+c.sectorSize], buf)
	c.slots[idx].dirty = true
	c.serial++
	c.slots[idx].serial = c.serial
	return nil
}

// resolve returns the slot index for block's track, loading it from
// the backend on a miss after evicting the least-recently-used slot
// (flushing it first if it is dirty).
func (c *Cache) resolve(block uint64) (int, error) {
	track, _ := c.trackOf(block)
	if idx := c.find(track); idx >= 0 {
		return idx, nil
	}
	idx, err := c.evict()
	if err != nil {
		return -1, err
	}
	if err := c.backend.ReadTrack(track, c.slots[idx].buf); err != nil {
		c.slots[idx].valid = false
		return -1, fmt.Errorf("trackcache: load track %d: %w", track, err)
	}
	c.slots[idx].track = track
	c.slots[idx].valid = true
	c.slots[idx].dirty = false
	return idx, nil
}

// evict picks a free slot if one exists, else the least-recently-used
// occupied slot, flushing it first if dirty, per spec.md §4.7.
func (c *Cache) evict() (int, error) {
	for i := range c.slots {
		if !c.slots[i].valid {
			return i, nil
		}
	}
	lru := 0
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i].serial < c.slots[lru].serial {
			lru = i
		}
	}
	if c.slots[lru].dirty {
		if err := c.flushSlot(lru); err != nil {
			return -1, err
		}
	}
	return lru, nil
}

func (c *Cache) flushSlot(idx int) error {
	s := &c.slots[idx]
	if !s.dirty {
		return nil
	}
	if err := c.backend.WriteTrack(s.track, s.buf); err != nil {
		return fmt.Errorf("trackcache: flush track %d: %w", s.track, err)
	}
	s.dirty = false
	return nil
}

// FlushAll writes every dirty slot back to the backend, in ascending
// track order, and clears their dirty bits.
func (c *Cache) FlushAll() error {
	order := make([]int, 0, len(c.slots))
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].dirty {
			order = append(order, i)
		}
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if c.slots[order[j]].track < c.slots[order[i]].track {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	for _, idx := range order {
		if err := c.flushSlot(idx); err != nil {
			return err
		}
	}
	return nil
}

// SlotInfo mirrors original_source file_access.h's GetCache
// introspection: which track a slot holds and its LRU serial.
type SlotInfo struct {
	Track  uint64
	Valid  bool
	Dirty  bool
	Serial uint64
}

// Stat returns the state of slot index, for diagnostics.
func (c *Cache) Stat(index int) (SlotInfo, bool) {
	if index < 0 || index >= len(c.slots) {
		return SlotInfo{}, false
	}
	s := c.slots[index]
	return SlotInfo{Track: s.track, Valid: s.valid, Dirty: s.dirty, Serial: s.serial}, true
}

// Slots returns the configured slot count.
func (c *Cache) Slots() int {
	return len(c.slots)
}
