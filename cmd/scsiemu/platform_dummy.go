//go:build !linux || !arm

package main

import "github.com/akuker/gscsi/internal/gpio"

// openPlatform on anything but a real Raspberry Pi wires up the
// in-process simulated bus, so scsiemu can run as a monitor/test
// target without hardware.
func openPlatform() (gpio.PinDriver, string, error) {
	return gpio.NewMock(), "monitor(mock)", nil
}
