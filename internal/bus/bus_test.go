package bus

import (
	"testing"

	"github.com/akuker/gscsi/internal/gpio"
	"github.com/akuker/gscsi/internal/scsi"
)

// TestClassifyIsTotal checks spec.md §8: for all (MSG,C/D,I/O) in
// {0,1}^3, Classify is defined and matches the §4.3 table.
func TestClassifyIsTotal(t *testing.T) {
	want := map[[3]bool]Phase{
		{false, false, false}: DataOut,
		{false, false, true}:  DataIn,
		{false, true, false}:  Command,
		{false, true, true}:   Status,
		{true, false, false}:  Reserved,
		{true, false, true}:   Reserved,
		{true, true, false}:   MsgOut,
		{true, true, true}:    MsgIn,
	}
	for bits, phase := range want {
		var s gpio.Snapshot
		s.Lines[gpio.BSY] = true
		s.Lines[gpio.MSG] = bits[0]
		s.Lines[gpio.CD] = bits[1]
		s.Lines[gpio.IO] = bits[2]
		if got := Classify(s); got != phase {
			t.Errorf("Classify(MSG=%v,CD=%v,IO=%v) = %v, want %v", bits[0], bits[1], bits[2], got, phase)
		}
	}
}

func TestClassifySelectionAndBusFree(t *testing.T) {
	var s gpio.Snapshot
	s.Lines[gpio.SEL] = true
	if got := Classify(s); got != Selection {
		t.Errorf("SEL asserted: got %v, want Selection", got)
	}
	s = gpio.Snapshot{}
	if got := Classify(s); got != BusFree {
		t.Errorf("no lines asserted: got %v, want BusFree", got)
	}
	s.Lines[gpio.BSY] = false
	s.Lines[gpio.MSG] = true
	if got := Classify(s); got != BusFree {
		t.Errorf("BSY deasserted: got %v, want BusFree regardless of MSG/CD/IO", got)
	}
}

// TestCDBLengthTotal checks spec.md §8: for all opcodes, CDBLength is
// in {0, 6, 10, 12, 16}.
func TestCDBLengthTotal(t *testing.T) {
	for op := 0; op < 256; op++ {
		n := scsi.CDBLength(scsi.Opcode(op))
		switch n {
		case 0, 6, 10, 12, 16:
		default:
			t.Fatalf("CDBLength(0x%02x) = %d, not in {0,6,10,12,16}", op, n)
		}
	}
}

func TestCDBLengthOpcode05Exception(t *testing.T) {
	if got := scsi.CDBLength(scsi.ReadBlockLimits); got != 10 {
		t.Errorf("CDBLength(0x05) = %d, want 10 (spec.md §9(b) compatibility exception)", got)
	}
}

// driveCommandPhase drives a gpio.Mock as if it were a real SCSI
// initiator issuing a Command-phase handshake, used to exercise the
// target-side CommandHandshake end to end.
func driveCommandPhase(m *gpio.Mock, cdb []byte) {
	m.Drive(gpio.BSY, true)
	for _, b := range cdb {
		m.WaitUntil(func(s gpio.Snapshot) bool { return s.Get(gpio.REQ) })
		m.DriveDAT(b)
		m.Drive(gpio.ACK, true)
		m.WaitUntil(func(s gpio.Snapshot) bool { return !s.Get(gpio.REQ) })
		m.Drive(gpio.ACK, false)
	}
}

func TestCommandHandshakeReceivesInquiry(t *testing.T) {
	m := gpio.NewMock()
	b := New(m, Target)
	b.Strict = true
	cdb := []byte{byte(scsi.Inquiry), 0x00, 0x00, 0x00, 0xFF, 0x00}
	done := make(chan int, 1)
	go func() {
		var buf [16]byte
		done <- b.CommandHandshake(buf[:])
	}()
	driveCommandPhase(m, cdb)
	n := <-done
	if n != len(cdb) {
		t.Fatalf("CommandHandshake received %d bytes, want %d", n, len(cdb))
	}
}

func TestCommandHandshakeACSIPrefix(t *testing.T) {
	m := gpio.NewMock()
	b := New(m, Target)
	b.Strict = true
	cdb := append([]byte{scsi.ACSIPrefix}, byte(scsi.Inquiry), 0x00, 0x00, 0x00, 0xFF, 0x00)
	done := make(chan int, 1)
	var buf [16]byte
	go func() {
		done <- b.CommandHandshake(buf[:])
	}()
	driveCommandPhase(m, cdb)
	n := <-done
	if n != 6 {
		t.Fatalf("CommandHandshake (ACSI) received %d bytes, want 6", n)
	}
	if buf[0] != byte(scsi.Inquiry) {
		t.Fatalf("effective CDB[0] = %#x, want INQUIRY; the 0x1F prefix must not be part of the effective CDB", buf[0])
	}
}

func TestCommandHandshakeUnknownOpcode(t *testing.T) {
	m := gpio.NewMock()
	b := New(m, Target)
	b.Strict = true
	done := make(chan int, 1)
	var buf [16]byte
	go func() {
		done <- b.CommandHandshake(buf[:])
	}()
	driveCommandPhase(m, []byte{0xFF})
	if n := <-done; n != 0 {
		t.Fatalf("CommandHandshake(0xFF) = %d, want 0 for unknown opcode", n)
	}
}
