// Package actuator implements motor.Actuator over four DRV2605
// haptic drivers sharing one I2C bus through a channel multiplexer,
// one channel per finger.
package actuator

import (
	"fmt"

	"tactilesync.dev/driver/drv2605"
)

// Mux is the narrow mux contract this package depends on, satisfied
// by driver/i2cmux.Mux.
type Mux interface {
	Select(channel int) error
}

const fingerCount = 4

// Actuator drives four fingers' worth of DRV2605 devices behind a
// shared mux. It implements motor.Actuator.
type Actuator struct {
	mux     Mux
	devices [fingerCount]*drv2605.Device
}

// New returns an Actuator for devices, one per finger channel 0..3 on
// mux. Configure must be called once before use.
func New(mux Mux, devices [fingerCount]*drv2605.Device) *Actuator {
	return &Actuator{mux: mux, devices: devices}
}

// Configure initializes every device in turn, selecting its mux
// channel first.
func (a *Actuator) Configure() error {
	for finger, dev := range a.devices {
		if err := a.mux.Select(finger); err != nil {
			return err
		}
		if err := dev.Configure(); err != nil {
			return err
		}
	}
	return nil
}

// Prime selects finger's channel and sets its drive frequency ahead
// of activation.
func (a *Actuator) Prime(finger, freqOffset int) error {
	dev, err := a.device(finger)
	if err != nil {
		return err
	}
	if err := a.mux.Select(finger); err != nil {
		return err
	}
	return dev.SetFrequency(freqOffset)
}

// Activate selects finger's channel and writes the amplitude
// register, the only write required if Prime already ran.
func (a *Actuator) Activate(finger, amplitude int) error {
	dev, err := a.device(finger)
	if err != nil {
		return err
	}
	if err := a.mux.Select(finger); err != nil {
		return err
	}
	return dev.SetAmplitude(amplitude)
}

// Deactivate stops finger's device.
func (a *Actuator) Deactivate(finger int) error {
	dev, err := a.device(finger)
	if err != nil {
		return err
	}
	if err := a.mux.Select(finger); err != nil {
		return err
	}
	return dev.Stop()
}

// StopAll stops every finger's device, best-effort: it continues
// past individual errors so one stuck channel cannot prevent the
// others from being silenced.
func (a *Actuator) StopAll() {
	for finger := range a.devices {
		a.mux.Select(finger)
		a.devices[finger].Stop()
	}
}

func (a *Actuator) device(finger int) (*drv2605.Device, error) {
	if finger < 0 || finger >= fingerCount {
		return nil, fmt.Errorf("actuator: finger %d out of range", finger)
	}
	return a.devices[finger], nil
}
