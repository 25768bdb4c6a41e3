package trackcache

import (
	"bytes"
	"testing"
)

// memBackend is a fake Backend over an in-memory byte slice, used to
// test read-after-write and write-back-durability without a real
// file.
type memBackend struct {
	sectorSize     int
	blocksPerTrack uint32
	data           []byte
	writes         []uint64 // track numbers in WriteTrack call order.
}

func newMemBackend(sectorSize int, blocksPerTrack uint32, tracks int) *memBackend {
	return &memBackend{
		sectorSize:     sectorSize,
		blocksPerTrack: blocksPerTrack,
		data:           make([]byte, sectorSize*int(blocksPerTrack)*tracks),
	}
}

func (b *memBackend) trackBytes() int {
	return b.sectorSize * int(b.blocksPerTrack)
}

func (b *memBackend) ReadTrack(track uint64, buf []byte) error {
	off := int(track) * b.trackBytes()
	copy(buf, b.data[off:off+len(buf)])
	return nil
}

func (b *memBackend) WriteTrack(track uint64, buf []byte) error {
	off := int(track) * b.trackBytes()
	copy(b.data[off:off+len(buf)], buf)
	b.writes = append(b.writes, track)
	return nil
}

func TestReadAfterWrite(t *testing.T) {
	const sectorSize = 512
	backend := newMemBackend(sectorSize, 8, 4)
	c := New(backend, sectorSize, 8, 2)

	want := bytes.Repeat([]byte{0x42}, sectorSize)
	if err := c.WriteSector(5, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, sectorSize)
	if err := c.ReadSector(5, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read-after-write mismatch")
	}
}

func TestWriteBackDurabilityAfterFlush(t *testing.T) {
	const sectorSize = 512
	backend := newMemBackend(sectorSize, 8, 4)
	c := New(backend, sectorSize, 8, 1) // single slot forces eviction on the second track touched.

	want := bytes.Repeat([]byte{0x99}, sectorSize)
	if err := c.WriteSector(0, want); err != nil {
		t.Fatal(err)
	}
	// Touch a different track; with only one slot this evicts and
	// flushes track 0's dirty data.
	if err := c.ReadSector(8, make([]byte, sectorSize)); err != nil {
		t.Fatal(err)
	}

	// Reopen the backend directly (simulating a Raw reopen) and
	// verify the written bytes landed.
	got := make([]byte, sectorSize)
	if err := backend.ReadTrack(0, got[:sectorSize]); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("write-back not durable after eviction: got %x, want %x", got[:4], want[:4])
	}
}

func TestFlushAllOrdersByTrack(t *testing.T) {
	const sectorSize = 256
	backend := newMemBackend(sectorSize, 4, 8)
	c := New(backend, sectorSize, 4, 4)

	for _, track := range []uint64{3, 1, 2} {
		block := track * 4
		buf := bytes.Repeat([]byte{byte(track)}, sectorSize)
		if err := c.WriteSector(block, buf); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if len(backend.writes) != 3 || backend.writes[0] != 1 || backend.writes[1] != 2 || backend.writes[2] != 3 {
		t.Fatalf("FlushAll wrote tracks in order %v, want [1 2 3]", backend.writes)
	}
	for _, track := range []uint64{1, 2, 3} {
		got := make([]byte, sectorSize)
		if err := backend.ReadTrack(track, got); err != nil {
			t.Fatal(err)
		}
		if got[0] != byte(track) {
			t.Fatalf("track %d not flushed correctly: got %d", track, got[0])
		}
	}
}

func TestAtMostOneSlotPerTrack(t *testing.T) {
	const sectorSize = 512
	backend := newMemBackend(sectorSize, 8, 4)
	c := New(backend, sectorSize, 8, 4)

	if err := c.WriteSector(0, make([]byte, sectorSize)); err != nil {
		t.Fatal(err)
	}
	if err := c.WriteSector(1, make([]byte, sectorSize)); err != nil {
		t.Fatal(err)
	}
	seen := map[uint64]int{}
	for i := 0; i < c.Slots(); i++ {
		info, ok := c.Stat(i)
		if !ok || !info.Valid {
			continue
		}
		seen[info.Track]++
	}
	for track, count := range seen {
		if count > 1 {
			t.Fatalf("track %d occupies %d slots, want at most 1", track, count)
		}
	}
}
