// Package gpio implements the PinDriver contract from SPEC_FULL.md
// §4.2: per-signal get/set, a bulk acquire that samples all SCSI
// signal lines as a single atomic snapshot, edge-triggered waiting for
// Selection, and a scoped IRQ-disable guard around latency-critical
// handshakes.
//
// The real implementation drives periph.io's bcm283x GPIO host driver,
// following the same Pin.In/Pin.Read/Pin.WaitForEdge idiom the teacher
// uses to read joystick buttons (driver/wshat/wshat.go) but applied to
// the ten SCSI control lines and the 8-bit DAT bus.
package gpio

import "runtime"

// Signal names one of the SCSI control lines. DAT is the 8-bit data
// bus and is accessed as a byte, not a single line.
type Signal int

const (
	BSY Signal = iota
	SEL
	ATN
	ACK
	RST
	MSG
	CD
	IO
	REQ
	DP
	numSignals
)

func (s Signal) String() string {
	switch s {
	case BSY:
		return "BSY"
	case SEL:
		return "SEL"
	case ATN:
		return "ATN"
	case ACK:
		return "ACK"
	case RST:
		return "RST"
	case MSG:
		return "MSG"
	case CD:
		return "C/D"
	case IO:
		return "I/O"
	case REQ:
		return "REQ"
	case DP:
		return "DP"
	default:
		return "?"
	}
}

// Snapshot is a sample of every SCSI signal line plus the data bus,
// taken by a single Acquire call. Mock copies all lines under one lock,
// so its Snapshots are atomic. Bcm283x reads the pins one after
// another, so a line that changes during its Acquire may be seen
// before or after the change relative to the other lines.
type Snapshot struct {
	Lines     [numSignals]bool
	Dat       byte
	TimestampNS uint64
}

func (s Snapshot) Get(sig Signal) bool {
	return s.Lines[sig]
}

// PinDriver is the hardware abstraction the Bus layer drives. A mock
// implementation (used in monitor mode and by tests) and the real
// bcm283x-backed implementation both satisfy it.
type PinDriver interface {
	// Acquire reads every signal line and the data bus in one pass
	// (see Snapshot for which drivers sample them atomically).
	Acquire() Snapshot

	// Get/Set drive or sample a single named signal line.
	Get(sig Signal) bool
	Set(sig Signal, asserted bool)

	// GetDAT/SetDAT read or drive the 8-bit data bus.
	GetDAT() byte
	SetDAT(b byte)

	// WaitEventSelect blocks until SEL transitions (asserted), using
	// an interrupt-backed file descriptor where available. It returns
	// false if the driver was closed while waiting.
	WaitEventSelect() bool

	// Close releases the underlying GPIO resources.
	Close() error
}

// IRQGuard scopes a latency-critical handshake: while held, the Go
// scheduler is prevented from migrating or preempting the handshake
// goroutine onto a different OS thread, which is the closest Go comes
// to disabling interrupts around a REQ/ACK byte pair (spec.md §4.2,
// §5, and the "hardest invariant" note in §5).
//
// Every acquisition must be paired with Release on every exit path,
// including panics; callers should defer Release immediately after
// Acquire.
type IRQGuard struct {
	held bool
}

// Acquire begins a scoped section during which this goroutine will not
// be preempted onto another OS thread.
func (g *IRQGuard) Acquire() {
	if g.held {
		panic("gpio: IRQGuard acquired twice without release")
	}
	runtime.LockOSThread()
	g.held = true
}

// Release ends the scoped section. Safe to call multiple times; only
// the first call after Acquire has an effect.
func (g *IRQGuard) Release() {
	if !g.held {
		return
	}
	g.held = false
	runtime.UnlockOSThread()
}
