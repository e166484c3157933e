// Package drv2605 implements a driver for the TI DRV2605 haptic
// motor driver IC operated in real-time playback (RTP) mode, driving
// an LRA actuator at a configurable resonant frequency and amplitude.
package drv2605

import "fmt"

// Bus is the periph.io-shaped I2C contract this package depends on.
// periph.io/x/conn/v3/i2c.Dev satisfies it directly.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

const devAddr = 0x5a

const (
	regStatus    = 0x00
	regMode      = 0x01
	regRTPInput  = 0x02
	regFeedback  = 0x1a
	regControl3  = 0x1d
	regLRAPeriod = 0x20

	modeStandby = 0x40
	modeRTP     = 0x00

	feedbackLRA      = 1 << 7 // select LRA over ERM actuator feedback
	control3OpenLoop = 1 << 0
)

// baseFreqHz and freqStepHz mirror the wire protocol's encoding:
// freq_hz = baseFreqHz + freqOffset*freqStepHz.
const (
	baseFreqHz = 200
	freqStepHz = 5
	// lraPeriodLSBus is the LRA_PERIOD register's LSB weight in
	// microseconds, per the DRV2605 datasheet.
	lraPeriodLSBus = 98.46
)

// Device drives one DRV2605 over an I2C mux channel.
type Device struct {
	bus     Bus
	scratch [2]byte
}

// New returns a Device talking to bus. Select the correct mux
// channel before any call reaches the bus.
func New(bus Bus) *Device {
	return &Device{bus: bus}
}

// Configure puts the device into LRA open-loop RTP mode, ready for
// SetFrequency/SetAmplitude calls.
func (d *Device) Configure() error {
	if err := d.writeReg(regControl3, control3OpenLoop); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	if err := d.writeReg(regFeedback, feedbackLRA); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	if err := d.writeReg(regMode, modeRTP); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	return nil
}

// SetFrequency sets the LRA drive period corresponding to
// 200+5*freqOffset Hz, the slow part of activation setup performed
// ahead of time during pre-selection.
func (d *Device) SetFrequency(freqOffset int) error {
	freqHz := baseFreqHz + freqOffset*freqStepHz
	if freqHz <= 0 {
		return fmt.Errorf("drv2605: non-positive frequency %d Hz", freqHz)
	}
	periodUs := 1_000_000.0 / float64(freqHz)
	reg := uint8(periodUs / lraPeriodLSBus)
	if err := d.writeReg(regLRAPeriod, reg); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	return nil
}

// SetAmplitude writes the real-time playback amplitude, 0-127, and
// ensures the device is out of standby. amplitude is clamped into
// range rather than rejected, since a caller-side bug here must never
// prevent a scheduled deactivation.
func (d *Device) SetAmplitude(amplitude int) error {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 127 {
		amplitude = 127
	}
	if err := d.writeReg(regRTPInput, uint8(amplitude)); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	return nil
}

// Stop zeroes the amplitude and returns the device to standby.
func (d *Device) Stop() error {
	if err := d.writeReg(regRTPInput, 0); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	if err := d.writeReg(regMode, modeStandby); err != nil {
		return fmt.Errorf("drv2605: %w", err)
	}
	return nil
}

// ReadStatus reads the diagnostic status register.
func (d *Device) ReadStatus() (uint8, error) {
	v, err := d.readReg(regStatus)
	if err != nil {
		return 0, fmt.Errorf("drv2605: %w", err)
	}
	return v, nil
}

func (d *Device) writeReg(reg, val uint8) error {
	req := d.scratch[:2]
	req[0], req[1] = reg, val
	return d.bus.Tx(devAddr, req, nil)
}

func (d *Device) readReg(reg uint8) (uint8, error) {
	req, resp := d.scratch[:1], d.scratch[1:2]
	req[0] = reg
	err := d.bus.Tx(devAddr, req, resp)
	return resp[0], err
}
