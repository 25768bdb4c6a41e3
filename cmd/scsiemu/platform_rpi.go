//go:build linux && arm

package main

import "github.com/akuker/gscsi/internal/gpio"

func openPlatform() (gpio.PinDriver, string, error) {
	pins, err := gpio.Open(gpio.DefaultPinout())
	if err != nil {
		return nil, "", err
	}
	return pins, "bcm283x", nil
}
