package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akuker/gscsi/internal/controller"
	"github.com/akuker/gscsi/internal/ctlproto"
	"github.com/akuker/gscsi/internal/ctlsock"
	"github.com/akuker/gscsi/internal/image"
	"github.com/akuker/gscsi/internal/lun"
	"github.com/akuker/gscsi/internal/orchestrator"
)

// daemon holds the control-plane state that sits above the orchestrator:
// the image-folder base path relative attach/create paths resolve
// against, and the set of target IDs attach must refuse (spec.md §6
// reserved_ids).
type daemon struct {
	orch        *orchestrator.Orchestrator
	imageFolder string
	reserved    map[int]bool
}

func newDaemon(orch *orchestrator.Orchestrator) *daemon {
	return &daemon{orch: orch, reserved: make(map[int]bool)}
}

// newHandler wraps d.apply as a ctlsock.Handler: every request is
// queued onto the orchestrator mailbox so state mutation only happens
// between commands, and blocks the connection goroutine until the
// orchestrator has actually run it.
func newHandler(d *daemon) ctlsock.Handler {
	return func(cmd ctlproto.Command) ctlproto.Result {
		resultCh := make(chan ctlproto.Result, 1)
		d.orch.Enqueue(func(*orchestrator.Orchestrator) {
			resultCh <- d.apply(cmd)
		})
		return <-resultCh
	}
}

func fail(format string, args ...any) ctlproto.Result {
	return ctlproto.Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

func ok(format string, args ...any) ctlproto.Result {
	return ctlproto.Result{OK: true, Message: fmt.Sprintf(format, args...)}
}

func (d *daemon) apply(cmd ctlproto.Command) ctlproto.Result {
	switch cmd.Action {
	case ctlproto.ActionAttach:
		return d.attach(cmd)
	case ctlproto.ActionDetach:
		return d.detach(cmd)
	case ctlproto.ActionInsert:
		return d.insert(cmd)
	case ctlproto.ActionEject:
		return d.eject(cmd)
	case ctlproto.ActionProtect:
		return d.setProtect(cmd, true)
	case ctlproto.ActionUnprotect:
		return d.setProtect(cmd, false)
	case ctlproto.ActionDevicesInfo:
		return d.devicesInfo()
	case ctlproto.ActionServerInfo:
		return d.serverInfo()
	case ctlproto.ActionLogLevel:
		// stdlib log has no level concept (see DESIGN.md); accepted and
		// acknowledged but otherwise a no-op.
		return ok("log level noted: %s", cmd.LogLevel)
	case ctlproto.ActionReservedIDs:
		d.reserved = make(map[int]bool, len(cmd.ReservedIDs))
		for _, id := range cmd.ReservedIDs {
			d.reserved[id] = true
		}
		return ok("reserved %d target IDs", len(cmd.ReservedIDs))
	case ctlproto.ActionCreateImage:
		return d.createImage(cmd)
	case ctlproto.ActionDeleteImage:
		return d.deleteImage(cmd)
	case ctlproto.ActionRenameImage:
		return d.renameImage(cmd)
	case ctlproto.ActionDefaultImageFolder:
		d.imageFolder = cmd.ImageFolder
		return ok("image folder set to %s", cmd.ImageFolder)
	case ctlproto.ActionShutdown:
		d.orch.Shutdown()
		return ok("shutting down")
	default:
		return fail("unrecognized action %q", cmd.Action)
	}
}

func (d *daemon) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || d.imageFolder == "" {
		return path
	}
	return filepath.Join(d.imageFolder, path)
}

func classFromString(class string) (lun.Type, bool) {
	switch class {
	case "hd":
		return lun.TypeDisk, true
	case "mo":
		return lun.TypeMO, true
	case "rm":
		return lun.TypeRemovable, true
	case "cd":
		return lun.TypeCDROM, true
	case "br":
		return lun.TypeBridge, true
	case "dp":
		return lun.TypeDaynaPort, true
	case "hs":
		return lun.TypeHostServices, true
	case "lp":
		return lun.TypePrinter, true
	default:
		return 0, false
	}
}

func classToString(t lun.Type) string {
	switch t {
	case lun.TypeDisk:
		return "hd"
	case lun.TypeMO:
		return "mo"
	case lun.TypeRemovable:
		return "rm"
	case lun.TypeCDROM:
		return "cd"
	case lun.TypeBridge:
		return "br"
	case lun.TypeDaynaPort:
		return "dp"
	case lun.TypeHostServices:
		return "hs"
	case lun.TypePrinter:
		return "lp"
	default:
		return "?"
	}
}

func (d *daemon) attach(cmd ctlproto.Command) ctlproto.Result {
	if cmd.TargetID < 0 || cmd.TargetID >= orchestrator.NumTargetIDs {
		return fail("target id %d out of range", cmd.TargetID)
	}
	if d.reserved[cmd.TargetID] {
		return fail("target id %d is reserved", cmd.TargetID)
	}
	class, ok2 := classFromString(cmd.Class)
	if !ok2 {
		return fail("unrecognized device class %q", cmd.Class)
	}
	c := d.orch.Controller(cmd.TargetID)

	u := lun.New(cmd.TargetID, cmd.LUN, class)
	c.Attach(cmd.LUN, u)

	if class == lun.TypePrinter || class == lun.TypeHostServices || class == lun.TypeDaynaPort {
		return ok("attached %s at %d:%d", cmd.Class, cmd.TargetID, cmd.LUN)
	}
	if cmd.Path == "" {
		return ok("attached empty %s at %d:%d", cmd.Class, cmd.TargetID, cmd.LUN)
	}
	return d.loadImage(u, cmd, "attached")
}

func (d *daemon) insert(cmd ctlproto.Command) ctlproto.Result {
	u := d.findUnit(cmd)
	if u == nil {
		return fail("no device at %d:%d", cmd.TargetID, cmd.LUN)
	}
	if cmd.Path == "" {
		return fail("insert requires a path")
	}
	return d.loadImage(u, cmd, "inserted")
}

func (d *daemon) loadImage(u *lun.LogicalUnit, cmd ctlproto.Command, verb string) ctlproto.Result {
	path := d.resolvePath(cmd.Path)
	fi, err := os.Stat(path)
	if err != nil {
		return fail("stat %s: %v", path, err)
	}
	props, _ := image.LoadProperties(path)
	sectorSize := 512
	if props.BlockSize != 0 {
		sectorSize = props.BlockSize
	} else if u.Type == lun.TypeCDROM {
		sectorSize = 2048
	}
	sectorLog2 := uint(9)
	for (1 << sectorLog2) < sectorSize {
		sectorLog2++
	}
	cdRaw := u.Type == lun.TypeCDROM && fi.Size()%2352 == 0
	params := image.Params{
		Path:           path,
		SectorSizeLog2: sectorLog2,
		ReadOnly:       u.WriteProtected,
		CDRaw:          cdRaw,
	}
	h, err := image.Open(image.Cached, params)
	if err != nil {
		return fail("open %s: %v", path, err)
	}
	var blockCount uint64
	if cdRaw {
		blockCount = uint64(fi.Size() / 2352)
	} else {
		blockCount = uint64(fi.Size()) / uint64(sectorSize)
	}
	if props.Vendor != "" {
		u.Vendor = props.Vendor
	}
	if props.Product != "" {
		u.Product = props.Product
	}
	if props.Revision != "" {
		u.Revision = props.Revision
	}
	u.Attach(h, uint32(sectorSize), blockCount)
	return ok("%s %s at %d:%d (%d blocks)", verb, path, u.TargetID, u.LUN, blockCount)
}

func (d *daemon) detach(cmd ctlproto.Command) ctlproto.Result {
	c := d.orch.Controller(cmd.TargetID)
	u := c.Units[cmd.LUN]
	if u == nil {
		return fail("no device at %d:%d", cmd.TargetID, cmd.LUN)
	}
	if err := u.Detach(); err != nil {
		return fail("detach: %v", err)
	}
	c.Attach(cmd.LUN, nil)
	return ok("detached %d:%d", cmd.TargetID, cmd.LUN)
}

func (d *daemon) eject(cmd ctlproto.Command) ctlproto.Result {
	u := d.findUnit(cmd)
	if u == nil {
		return fail("no device at %d:%d", cmd.TargetID, cmd.LUN)
	}
	if err := u.Detach(); err != nil {
		return fail("eject: %v", err)
	}
	u.Removed = true
	return ok("ejected %d:%d", cmd.TargetID, cmd.LUN)
}

func (d *daemon) setProtect(cmd ctlproto.Command, protect bool) ctlproto.Result {
	u := d.findUnit(cmd)
	if u == nil {
		return fail("no device at %d:%d", cmd.TargetID, cmd.LUN)
	}
	u.WriteProtected = protect
	return ok("write protect for %d:%d set to %v", cmd.TargetID, cmd.LUN, protect)
}

func (d *daemon) findUnit(cmd ctlproto.Command) *lun.LogicalUnit {
	if cmd.TargetID < 0 || cmd.TargetID >= orchestrator.NumTargetIDs {
		return nil
	}
	return d.orch.Controller(cmd.TargetID).Units[cmd.LUN]
}

func (d *daemon) devicesInfo() ctlproto.Result {
	var devices []ctlproto.DeviceInfo
	for id := 0; id < orchestrator.NumTargetIDs; id++ {
		c := d.orch.Controller(id)
		for lunNum := 0; lunNum < controller.MaxLUNs; lunNum++ {
			u := c.Units[lunNum]
			if u == nil {
				continue
			}
			path := ""
			if u.Image != nil {
				path = u.Image.Params().Path
			}
			devices = append(devices, ctlproto.DeviceInfo{
				TargetID:   id,
				LUN:        lunNum,
				Class:      classToString(u.Type),
				File:       path,
				BlockSize:  u.BlockSize,
				BlockCount: u.BlockCount,
				ReadOnly:   u.WriteProtected,
				Ready:      u.Ready,
			})
		}
	}
	return ctlproto.Result{OK: true, Devices: devices}
}

func (d *daemon) serverInfo() ctlproto.Result {
	var reserved []int
	for id := range d.reserved {
		reserved = append(reserved, id)
	}
	return ctlproto.Result{OK: true, Server: &ctlproto.ServerInfo{
		Version:     version,
		ImageFolder: d.imageFolder,
		ReservedIDs: reserved,
	}}
}

func (d *daemon) createImage(cmd ctlproto.Command) ctlproto.Result {
	path := d.resolvePath(cmd.Path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fail("create %s: %v", path, err)
	}
	defer f.Close()
	if err := f.Truncate(cmd.SizeBytes); err != nil {
		return fail("truncate %s: %v", path, err)
	}
	return ok("created %s (%d bytes)", path, cmd.SizeBytes)
}

func (d *daemon) deleteImage(cmd ctlproto.Command) ctlproto.Result {
	path := d.resolvePath(cmd.Path)
	if err := os.Remove(path); err != nil {
		return fail("delete %s: %v", path, err)
	}
	return ok("deleted %s", path)
}

func (d *daemon) renameImage(cmd ctlproto.Command) ctlproto.Result {
	oldPath := d.resolvePath(cmd.Path)
	newPath := d.resolvePath(cmd.NewPath)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fail("rename %s to %s: %v", oldPath, newPath, err)
	}
	return ok("renamed %s to %s", oldPath, newPath)
}
