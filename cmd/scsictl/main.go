// Command scsictl is the control-plane CLI for scsiemu: it attaches,
// detaches, inserts, ejects and (un)protects logical units, lists
// attached devices, and can ask the daemon to stop or shut down, all by
// dialing its Unix control socket and exchanging one ctlproto frame
// pair per invocation.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/akuker/gscsi/internal/ctlproto"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sockPath = flag.String("sock", "/var/run/gscsi.sock", "control-plane Unix socket path")
		id       = flag.Int("i", -1, "target id")
		lunNum   = flag.Int("u", 0, "logical unit number")
		action   = flag.String("c", "", "command: attach, detach, insert, eject, protect, unprotect")
		class    = flag.String("t", "", "device class: hd, cd, mo, br, dp, hs, lp, rm")
		file     = flag.String("f", "", "image file path")
		list     = flag.Bool("list", false, "list attached devices")
		stop     = flag.Bool("stop", false, "tell the daemon to shut down")
		shutdown = flag.Bool("shutdown", false, "alias for -stop")
	)
	flag.Parse()

	var cmd ctlproto.Command
	switch {
	case *list:
		cmd = ctlproto.Command{Action: ctlproto.ActionDevicesInfo}
	case *stop || *shutdown:
		cmd = ctlproto.Command{Action: ctlproto.ActionShutdown}
	default:
		var err error
		cmd, err = buildCommand(*id, *lunNum, *action, *class, *file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scsictl: %v\n", err)
			return int(syscall.EINVAL)
		}
	}

	res, err := dial(*sockPath, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scsictl: %v\n", err)
		return int(syscall.ENOTCONN)
	}

	printResult(res)
	if !res.OK {
		return int(syscall.EINVAL)
	}
	return 0
}

func buildCommand(id, lunNum int, action, class, file string) (ctlproto.Command, error) {
	if id < 0 {
		return ctlproto.Command{}, fmt.Errorf("-i ID is required")
	}
	act, err := actionFromString(action)
	if err != nil {
		return ctlproto.Command{}, err
	}
	cmd := ctlproto.Command{Action: act, TargetID: id, LUN: lunNum, Class: class, Path: file}
	switch act {
	case ctlproto.ActionAttach:
		if class == "" {
			return ctlproto.Command{}, fmt.Errorf("-c attach requires -t CLASS")
		}
	case ctlproto.ActionInsert:
		if file == "" {
			return ctlproto.Command{}, fmt.Errorf("-c insert requires -f FILE")
		}
	}
	return cmd, nil
}

func actionFromString(s string) (ctlproto.Action, error) {
	switch s {
	case "attach":
		return ctlproto.ActionAttach, nil
	case "detach":
		return ctlproto.ActionDetach, nil
	case "insert":
		return ctlproto.ActionInsert, nil
	case "eject":
		return ctlproto.ActionEject, nil
	case "protect":
		return ctlproto.ActionProtect, nil
	case "unprotect":
		return ctlproto.ActionUnprotect, nil
	default:
		return "", fmt.Errorf("unrecognized -c %q", s)
	}
}

func dial(sockPath string, cmd ctlproto.Command) (ctlproto.Result, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return ctlproto.Result{}, fmt.Errorf("connect %s: %w", sockPath, err)
	}
	defer conn.Close()

	if err := ctlproto.WriteCommand(conn, cmd); err != nil {
		return ctlproto.Result{}, err
	}
	return ctlproto.ReadResult(conn)
}

func printResult(res ctlproto.Result) {
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	for _, d := range res.Devices {
		state := "no media"
		if d.Ready {
			state = fmt.Sprintf("%d blocks x %d", d.BlockCount, d.BlockSize)
		}
		ro := ""
		if d.ReadOnly {
			ro = " (read-only)"
		}
		fmt.Printf("%d:%d %-4s %-40s %s%s\n", d.TargetID, d.LUN, d.Class, d.File, state, ro)
	}
	if res.Server != nil {
		fmt.Printf("scsiemu %s, image folder %s\n", res.Server.Version, res.Server.ImageFolder)
	}
}
