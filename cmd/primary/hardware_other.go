//go:build !linux

package main

import (
	"errors"

	"tactilesync.dev/actuator"
	"tactilesync.dev/battery"
	"tactilesync.dev/radio"
)

// openHardware has no non-Linux implementation: the I2C bus and the
// BLE UART bridge are both Linux-specific in this build. Development
// off-target should run the package tests instead, which exercise
// every component against fakes.
func openHardware(linkDevice string) (radio.Link, *actuator.Actuator, *battery.Monitor, error) {
	return nil, nil, nil, errors.New("primary: hardware access requires linux")
}
