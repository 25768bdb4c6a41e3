package ctlproto

import (
	"bytes"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	want := Command{
		Action:   ActionAttach,
		TargetID: 3,
		LUN:      0,
		Class:    "hd",
		Path:     "/images/disk0.hds",
	}
	var buf bytes.Buffer
	if err := WriteCommand(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCommand(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != want.Action || got.TargetID != want.TargetID || got.LUN != want.LUN ||
		got.Class != want.Class || got.Path != want.Path {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResultRoundTripWithDeviceList(t *testing.T) {
	want := Result{
		OK: true,
		Devices: []DeviceInfo{
			{TargetID: 0, LUN: 0, Class: "hd", File: "/images/disk0.hds", BlockSize: 512, BlockCount: 1000, Ready: true},
			{TargetID: 1, LUN: 0, Class: "cd", File: "/images/game.iso", ReadOnly: true},
		},
	}
	var buf bytes.Buffer
	if err := WriteResult(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadResult(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Devices) != 2 || got.Devices[1].Class != "cd" {
		t.Fatalf("got %+v", got)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var cmd Command
	if err := ReadFrame(&buf, &cmd); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	WriteCommand(&buf, Command{Action: ActionDetach, TargetID: 1})
	WriteCommand(&buf, Command{Action: ActionEject, TargetID: 2})

	first, err := ReadCommand(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if first.Action != ActionDetach || first.TargetID != 1 {
		t.Fatalf("first frame = %+v", first)
	}
	second, err := ReadCommand(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if second.Action != ActionEject || second.TargetID != 2 {
		t.Fatalf("second frame = %+v", second)
	}
}
