//go:build !linux

package main

import (
	"errors"

	"tactilesync.dev/actuator"
	"tactilesync.dev/battery"
	"tactilesync.dev/radio"
)

func openHardware(linkDevice string) (radio.Link, *actuator.Actuator, *battery.Monitor, error) {
	return nil, nil, nil, errors.New("secondary: hardware access requires linux")
}
