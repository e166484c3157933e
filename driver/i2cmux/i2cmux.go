// Package i2cmux implements a driver for a TCA9548A-style I2C
// channel multiplexer: one upstream bus fans out to several
// downstream channels, and exactly one channel is active at a time.
// It exists so four DRV2605 haptic drivers (one per finger) can share
// a single I2C bus without address conflicts, since all four ship
// with the same fixed address.
package i2cmux

import "fmt"

// Bus is the narrow periph.io-shaped I2C contract this package
// depends on: a single addressed transaction. periph.io/x/conn/v3/i2c.Dev
// satisfies it directly.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

const defaultAddr = 0x70

// Mux selects which downstream channel is connected to the bus.
type Mux struct {
	bus     Bus
	addr    uint16
	current int // -1 until the first Select
}

// New returns a Mux talking to bus at the chip's default address.
func New(bus Bus) *Mux {
	return &Mux{bus: bus, addr: defaultAddr, current: -1}
}

// Select enables exactly one of up to 8 downstream channels
// (0..7), disabling all others. It is a no-op if channel is already
// selected, avoiding a redundant bus transaction on every Prime call.
func (m *Mux) Select(channel int) error {
	if channel < 0 || channel > 7 {
		return fmt.Errorf("i2cmux: channel %d out of range", channel)
	}
	if m.current == channel {
		return nil
	}
	if err := m.bus.Tx(m.addr, []byte{1 << uint(channel)}, nil); err != nil {
		return fmt.Errorf("i2cmux: %w", err)
	}
	m.current = channel
	return nil
}
