// Command scsiemu emulates a GPIO-driven SCSI target device on a
// Raspberry Pi, or against a simulated in-process bus for monitor-mode
// testing off hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/akuker/gscsi/internal/bus"
	"github.com/akuker/gscsi/internal/ctlproto"
	"github.com/akuker/gscsi/internal/ctlsock"
	"github.com/akuker/gscsi/internal/orchestrator"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}
}

// attachSpecs collects repeated -attach flags of the form
// "id:lun:class:path".
type attachSpecs []string

func (a *attachSpecs) String() string     { return strings.Join(*a, ",") }
func (a *attachSpecs) Set(s string) error { *a = append(*a, s); return nil }

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	sockPath := flag.String("sock", "/var/run/gscsi.sock", "control-plane Unix socket path")
	imageFolder := flag.String("image-folder", "", "base directory relative attach/create-image paths resolve against")
	strict := flag.Bool("strict", false, "disable bus timing workarounds for bit-for-bit protocol compliance")
	var attach attachSpecs
	flag.Var(&attach, "attach", "preattach a device at startup: id:lun:class:path (repeatable)")
	flag.Parse()

	pins, mode, err := openPlatform()
	if err != nil {
		return fmt.Errorf("open platform: %w", err)
	}
	defer pins.Close()

	b := bus.New(pins, bus.Target)
	b.Strict = *strict
	orch := orchestrator.New(b)

	d := newDaemon(orch)
	d.imageFolder = *imageFolder
	for _, spec := range attach {
		if res := d.apply(parseAttachSpec(spec)); !res.OK {
			log.Printf("scsiemu: -attach %q: %s", spec, res.Message)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		log.Println("scsiemu: shutdown requested")
		orch.Shutdown()
		cancel()
	}()

	srv := &ctlsock.Server{Path: *sockPath, Handler: newHandler(d)}
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("scsiemu: control socket: %v", err)
		}
	}()
	defer srv.Close()

	log.Printf("scsiemu: serving target bus (%s), control socket at %s", mode, *sockPath)
	err = orch.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// parseAttachSpec parses "id:lun:class:path" (path optional) into the
// same Attach command scsictl builds from its -i/-u/-t/-f flags.
func parseAttachSpec(spec string) ctlproto.Command {
	parts := strings.SplitN(spec, ":", 4)
	cmd := ctlproto.Command{Action: ctlproto.ActionAttach}
	if len(parts) > 0 {
		cmd.TargetID, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		cmd.LUN, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		cmd.Class = parts[2]
	}
	if len(parts) > 3 {
		cmd.Path = parts[3]
	}
	return cmd
}
