// Package orchestrator implements the reactor loop of SPEC_FULL.md §5:
// a single goroutine that waits for Selection on the shared bus, hands
// it to the addressed target's Controller, and applies queued
// control-plane actions (attach/detach/insert/eject) only at the
// BusFree boundary between commands.
//
// Grounded on cmd/controller/platform_rpi.go's Platform.Events(deadline)
// / Wakeup() reactor (collect-until-deadline-or-signal, drain pending
// work before blocking again), adapted from GUI input events to SCSI
// bus phases and a control-plane mailbox.
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/akuker/gscsi/internal/bus"
	"github.com/akuker/gscsi/internal/controller"
)

// NumTargetIDs is the number of SCSI IDs a single bus addresses.
const NumTargetIDs = 8

// Orchestrator owns the shared Bus and the per-target Controllers
// created lazily as targets are attached.
type Orchestrator struct {
	Bus         *bus.Bus
	controllers [NumTargetIDs]*controller.Controller

	mailbox  chan func(*Orchestrator)
	shutdown chan struct{}
}

// New returns an Orchestrator driving b. Controllers are created via
// Controller as targets are attached; Run does not assume any are
// present at startup.
func New(b *bus.Bus) *Orchestrator {
	return &Orchestrator{
		Bus:      b,
		mailbox:  make(chan func(*Orchestrator), 32),
		shutdown: make(chan struct{}),
	}
}

// Controller returns the Controller for targetID, creating it on first
// use.
func (o *Orchestrator) Controller(targetID int) *controller.Controller {
	if o.controllers[targetID] == nil {
		o.controllers[targetID] = controller.New(targetID, o.Bus)
	}
	return o.controllers[targetID]
}

// Enqueue schedules fn to run on the orchestrator goroutine the next
// time the bus is idle (BusFree). Control-plane handlers use this to
// mutate LogicalUnit/Controller state without racing the bus
// handshake goroutine. Enqueue does not block; a full mailbox drops
// the action and logs it, the same backpressure behavior spec.md §6
// expects of a control-plane under load.
func (o *Orchestrator) Enqueue(fn func(*Orchestrator)) {
	select {
	case o.mailbox <- fn:
	default:
		log.Printf("orchestrator: mailbox full, dropping queued action")
	}
}

// Shutdown requests Run return at the next BusFree boundary. Safe to
// call more than once.
func (o *Orchestrator) Shutdown() {
	select {
	case <-o.shutdown:
	default:
		close(o.shutdown)
	}
}

// Run drives the reactor loop until ctx is canceled, Shutdown is
// called, or the underlying PinDriver is closed. Graceful shutdown and
// mailbox actions are only observed while the bus reports BusFree, per
// spec.md §5: a command already in flight always runs to completion.
//
// WaitEventSelect blocks on the PinDriver with no context plumbed
// through it (it models an edge-triggered GPIO wait, not a cancelable
// I/O call), so a canceled ctx or a Shutdown is delivered by closing
// the PinDriver out from under the blocked wait, exactly like
// stepper.Driver.Run's quit channel forces its blocking step loop to
// observe shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			o.Bus.Pins.Close()
		case <-o.shutdown:
			o.Bus.Pins.Close()
		case <-watchDone:
		}
	}()

	for {
		if o.Bus.Phase() != bus.BusFree {
			o.service()
			continue
		}

		o.drainMailbox()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.shutdown:
			return nil
		default:
		}

		if !o.Bus.Pins.WaitEventSelect() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.shutdown:
				return nil
			default:
				return fmt.Errorf("orchestrator: pin driver closed")
			}
		}
	}
}

// drainMailbox runs every action queued since the last BusFree
// boundary, without blocking.
func (o *Orchestrator) drainMailbox() {
	for {
		select {
		case fn := <-o.mailbox:
			fn(o)
		default:
			return
		}
	}
}

// service runs one Selection-to-BusFree command cycle for whichever
// attached target ID the initiator addressed.
func (o *Orchestrator) service() {
	snap, phase := o.Bus.Acquire()
	if phase != bus.Selection {
		return
	}
	for id := 0; id < NumTargetIDs; id++ {
		if snap.Dat&(1<<uint(id)) == 0 {
			continue
		}
		c := o.controllers[id]
		if c == nil {
			continue
		}
		if c.HandleSelection() {
			c.RunCommand()
		}
		return
	}
}
