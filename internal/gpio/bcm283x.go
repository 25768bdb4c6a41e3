//go:build linux && arm

package gpio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// Pinout maps each Signal (and the 8-bit DAT bus) to a BCM283x GPIO
// line. This follows the RaSCSI "standard" (STANDARD) pin assignment;
// a board with the "full spec" (FULLSPEC) 50-pin connector would use a
// different table, but the shape — one periph.io gpio.PinIO per
// signal — is the same.
type Pinout struct {
	Signals [numSignals]gpio.PinIO
	Dat     [8]gpio.PinIO
}

// Bcm283x drives the SCSI signal lines through periph.io's bcm283x
// host driver, the same package the teacher uses in driver/wshat.go to
// read joystick buttons.
type Bcm283x struct {
	pins   Pinout
	selEvt gpio.PinIn
	closed chan struct{}
}

// DefaultPinout is the RaSCSI STANDARD pinout.
func DefaultPinout() Pinout {
	return Pinout{
		Signals: [numSignals]gpio.PinIO{
			BSY: bcm283x.GPIO2,
			SEL: bcm283x.GPIO3,
			ATN: bcm283x.GPIO4,
			ACK: bcm283x.GPIO5,
			RST: bcm283x.GPIO6,
			MSG: bcm283x.GPIO7,
			CD:  bcm283x.GPIO8,
			IO:  bcm283x.GPIO9,
			REQ: bcm283x.GPIO10,
			DP:  bcm283x.GPIO11,
		},
		Dat: [8]gpio.PinIO{
			bcm283x.GPIO12, bcm283x.GPIO13, bcm283x.GPIO14, bcm283x.GPIO15,
			bcm283x.GPIO16, bcm283x.GPIO17, bcm283x.GPIO18, bcm283x.GPIO19,
		},
	}
}

// Open initializes periph.io's host drivers and configures the pinout
// for target-mode operation: every signal line starts as a pulled-up
// input without edge detection, then SEL is reconfigured with
// falling-edge detection for WaitEventSelect. The DAT pins are not
// configured here; Set and SetDAT switch a line to output when they
// drive it through periph.io's PinOut.Out.
func Open(pins Pinout) (*Bcm283x, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host.Init: %w", err)
	}
	for sig, pin := range pins.Signals {
		in, ok := pin.(gpio.PinIn)
		if !ok {
			return nil, fmt.Errorf("gpio: pin for %s does not support input", Signal(sig))
		}
		if err := in.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("gpio: configure %s: %w", Signal(sig), err)
		}
	}
	sel, ok := pins.Signals[SEL].(gpio.PinIn)
	if !ok {
		return nil, fmt.Errorf("gpio: SEL pin does not support edge events")
	}
	if err := sel.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure SEL edge: %w", err)
	}
	return &Bcm283x{
		pins:   pins,
		selEvt: sel,
		closed: make(chan struct{}),
	}, nil
}

func (b *Bcm283x) Acquire() Snapshot {
	var s Snapshot
	for i, pin := range b.pins.Signals {
		if in, ok := pin.(gpio.PinIn); ok {
			s.Lines[i] = in.Read() == gpio.Low
		}
	}
	var dat byte
	for i, pin := range b.pins.Dat {
		if in, ok := pin.(gpio.PinIn); ok && in.Read() == gpio.Low {
			dat |= 1 << uint(i)
		}
	}
	s.Dat = dat
	return s
}

func (b *Bcm283x) Get(sig Signal) bool {
	in, ok := b.pins.Signals[sig].(gpio.PinIn)
	if !ok {
		return false
	}
	// SCSI signals are active-low on the physical bus; asserted means
	// the line is driven low.
	return in.Read() == gpio.Low
}

func (b *Bcm283x) Set(sig Signal, asserted bool) {
	out, ok := b.pins.Signals[sig].(gpio.PinOut)
	if !ok {
		return
	}
	level := gpio.High
	if asserted {
		level = gpio.Low
	}
	out.Out(level)
}

func (b *Bcm283x) GetDAT() byte {
	var dat byte
	for i, pin := range b.pins.Dat {
		if in, ok := pin.(gpio.PinIn); ok && in.Read() == gpio.Low {
			dat |= 1 << uint(i)
		}
	}
	return dat
}

func (b *Bcm283x) SetDAT(v byte) {
	for i, pin := range b.pins.Dat {
		out, ok := pin.(gpio.PinOut)
		if !ok {
			continue
		}
		level := gpio.High
		if v&(1<<uint(i)) != 0 {
			level = gpio.Low
		}
		out.Out(level)
	}
}

func (b *Bcm283x) WaitEventSelect() bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	return b.selEvt.WaitForEdge(-1)
}

func (b *Bcm283x) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}
