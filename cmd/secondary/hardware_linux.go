//go:build linux

package main

import (
	"fmt"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"tactilesync.dev/actuator"
	"tactilesync.dev/battery"
	"tactilesync.dev/driver/drv2605"
	"tactilesync.dev/driver/i2cmux"
	"tactilesync.dev/radio"
)

const fingerCount = 4

func openHardware(linkDevice string) (radio.Link, *actuator.Actuator, *battery.Monitor, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("i2c open: %w", err)
	}

	mux := i2cmux.New(bus)
	var devices [fingerCount]*drv2605.Device
	for i := range devices {
		devices[i] = drv2605.New(bus)
	}
	act := actuator.New(mux, devices)
	if err := act.Configure(); err != nil {
		return nil, nil, nil, fmt.Errorf("actuator configure: %w", err)
	}

	batt := battery.New(bus)

	link, err := serial.OpenPort(&serial.Config{Name: linkDevice, Baud: 115200})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("serial open: %w", err)
	}

	return link, act, batt, nil
}
