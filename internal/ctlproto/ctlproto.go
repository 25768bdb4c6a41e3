// Package ctlproto implements the control-plane wire protocol of
// SPEC_FULL.md §6: a length-prefixed CBOR frame carrying one Command
// per control-plane request and one Result per response, exchanged
// over the Unix domain socket internal/ctlsock listens on.
//
// Grounded on driver/mjolnir/driver.go's batched command protocol
// shape (a fixed-size command structure flushed through a buffered
// writer, a response read back and checked against expected status
// bytes) generalized from a fixed 10-byte engraver command to a
// variable-length, self-describing frame using the teacher's own CBOR
// dependency instead of a fixed byte layout.
package ctlproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize bounds a single frame to guard a misbehaving peer from
// making the server allocate an unbounded buffer.
const maxFrameSize = 16 << 20

// Action names one control-plane operation, per spec.md §6.
type Action string

const (
	ActionAttach             Action = "attach"
	ActionDetach             Action = "detach"
	ActionInsert             Action = "insert"
	ActionEject              Action = "eject"
	ActionProtect            Action = "protect"
	ActionUnprotect          Action = "unprotect"
	ActionDevicesInfo        Action = "devices_info"
	ActionServerInfo         Action = "server_info"
	ActionLogLevel           Action = "log_level"
	ActionReservedIDs        Action = "reserved_ids"
	ActionCreateImage        Action = "create_image"
	ActionDeleteImage        Action = "delete_image"
	ActionRenameImage        Action = "rename_image"
	ActionDefaultImageFolder Action = "default_image_folder"
	ActionShutdown           Action = "shutdown"
)

// Command is one control-plane request. Fields not meaningful to
// Action are left zero; which ones apply is documented per Action in
// spec.md §6.
type Command struct {
	Action Action `cbor:"action"`

	TargetID int    `cbor:"target_id"`
	LUN      int    `cbor:"lun"`
	Class    string `cbor:"class,omitempty"` // hd/cd/mo/br/dp/hs/lp/rm

	Path    string `cbor:"path,omitempty"`
	NewPath string `cbor:"new_path,omitempty"` // rename_image

	ReadOnly bool `cbor:"read_only,omitempty"` // protect/unprotect

	SizeBytes int64 `cbor:"size_bytes,omitempty"` // create_image

	LogLevel    string `cbor:"log_level,omitempty"`
	ImageFolder string `cbor:"image_folder,omitempty"`
	ReservedIDs []int  `cbor:"reserved_ids,omitempty"`
}

// DeviceInfo describes one attached logical unit, returned by
// devices_info.
type DeviceInfo struct {
	TargetID   int    `cbor:"target_id"`
	LUN        int    `cbor:"lun"`
	Class      string `cbor:"class"`
	File       string `cbor:"file,omitempty"`
	BlockSize  uint32 `cbor:"block_size,omitempty"`
	BlockCount uint64 `cbor:"block_count,omitempty"`
	ReadOnly   bool   `cbor:"read_only"`
	Ready      bool   `cbor:"ready"`
}

// ServerInfo is returned by server_info.
type ServerInfo struct {
	Version     string `cbor:"version"`
	ImageFolder string `cbor:"image_folder"`
	ReservedIDs []int  `cbor:"reserved_ids,omitempty"`
}

// Result is the response to a Command. OK false means Message carries
// an error description; the caller maps this to the exit codes spec.md
// §6 defines for scsictl.
type Result struct {
	OK      bool         `cbor:"ok"`
	Message string       `cbor:"message,omitempty"`
	Devices []DeviceInfo `cbor:"devices,omitempty"`
	Server  *ServerInfo  `cbor:"server,omitempty"`
}

// WriteFrame encodes v as CBOR and writes it to w behind a 4-byte
// big-endian length prefix.
func WriteFrame(w io.Writer, v any) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("ctlproto: encode: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ctlproto: write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ctlproto: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed CBOR frame from r and decodes it
// into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("ctlproto: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return fmt.Errorf("ctlproto: frame of %d bytes exceeds %d byte limit", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("ctlproto: read payload: %w", err)
	}
	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("ctlproto: decode: %w", err)
	}
	return nil
}

// WriteCommand writes cmd as a frame.
func WriteCommand(w io.Writer, cmd Command) error { return WriteFrame(w, cmd) }

// ReadCommand reads one Command frame.
func ReadCommand(r io.Reader) (Command, error) {
	var cmd Command
	err := ReadFrame(r, &cmd)
	return cmd, err
}

// WriteResult writes res as a frame.
func WriteResult(w io.Writer, res Result) error { return WriteFrame(w, res) }

// ReadResult reads one Result frame.
func ReadResult(r io.Reader) (Result, error) {
	var res Result
	err := ReadFrame(r, &res)
	return res, err
}
