package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/akuker/gscsi/internal/bus"
	"github.com/akuker/gscsi/internal/gpio"
	"github.com/akuker/gscsi/internal/image"
	"github.com/akuker/gscsi/internal/lun"
	"github.com/akuker/gscsi/internal/scsi"
)

type memImage struct {
	blockSize int
	data      []byte
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
func (m *memImage) Flush() error         { return nil }
func (m *memImage) Close() error         { return nil }
func (m *memImage) Params() image.Params { return image.Params{SectorSizeLog2: 9} }

func initiatorRecvByte(m *gpio.Mock) byte {
	m.WaitUntil(func(s gpio.Snapshot) bool { return s.Get(gpio.REQ) })
	b := m.GetDAT()
	m.Drive(gpio.ACK, true)
	m.WaitUntil(func(s gpio.Snapshot) bool { return !s.Get(gpio.REQ) })
	m.Drive(gpio.ACK, false)
	return b
}

func initiatorSendByte(m *gpio.Mock, b byte) {
	m.WaitUntil(func(s gpio.Snapshot) bool { return s.Get(gpio.REQ) })
	m.DriveDAT(b)
	m.Drive(gpio.ACK, true)
	m.WaitUntil(func(s gpio.Snapshot) bool { return !s.Get(gpio.REQ) })
	m.Drive(gpio.ACK, false)
}

func TestRunServicesSelectionThenReturnsToBusFree(t *testing.T) {
	m := gpio.NewMock()
	b := bus.New(m, bus.Target)
	b.ReqAckTimeout = 2 * time.Second
	o := New(b)

	c := o.Controller(2)
	unit := lun.New(2, 0, lun.TypeDisk)
	unit.Attach(newMemImage(512, 16), 512, 16)
	unit.Attention = false
	c.Attach(0, unit)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	m.DriveDAT(1 << 2)
	m.Drive(gpio.SEL, true)
	m.WaitUntil(func(s gpio.Snapshot) bool { return s.Get(gpio.BSY) })
	m.Drive(gpio.SEL, false)

	cdb := []byte{byte(scsi.TestUnitReady), 0, 0, 0, 0, 0}
	for _, bb := range cdb {
		initiatorSendByte(m, bb)
	}
	status := initiatorRecvByte(m)
	initiatorRecvByte(m) // message

	if scsi.Status(status) != scsi.StatusGood {
		t.Fatalf("status = %#x, want GOOD", status)
	}

	if !m.WaitUntil(func(s gpio.Snapshot) bool { return !s.Get(gpio.BSY) }) {
		t.Fatal("bus never returned to BusFree")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdownStopsRunAtBusFree(t *testing.T) {
	m := gpio.NewMock()
	b := bus.New(m, bus.Target)
	o := New(b)

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(context.Background()) }()

	o.Shutdown()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		m.Close()
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestEnqueueRunsAtBusFree(t *testing.T) {
	m := gpio.NewMock()
	b := bus.New(m, bus.Target)
	o := New(b)

	ran := make(chan struct{})
	o.Enqueue(func(o *Orchestrator) { close(ran) })

	go o.Run(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued action never ran")
	}
	o.Shutdown()
}
