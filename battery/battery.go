// Package battery implements a voltage monitor over a single ADC-style
// I2C register read, the same shape as driver/ap33772s's Measure*
// methods.
package battery

import "fmt"

// Bus is the periph.io-shaped I2C contract this package depends on.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

const (
	devAddr          = 0x48
	regVoltage       = 0x00
	milliVoltsPerLSB = 4 // 12-bit ADC over a 0-16.4V divider range, approximately
)

// Warning and critical thresholds, in millivolts, for a single-cell
// LiPo pack.
const (
	WarningMV  = 3500
	CriticalMV = 3300
)

// Monitor reads pack voltage.
type Monitor struct {
	bus     Bus
	scratch [2]byte
}

// New returns a Monitor talking to bus.
func New(bus Bus) *Monitor {
	return &Monitor{bus: bus}
}

// VoltageMV reads the current pack voltage in millivolts.
func (m *Monitor) VoltageMV() (int, error) {
	req, resp := m.scratch[:1], m.scratch[1:2]
	req[0] = regVoltage
	if err := m.bus.Tx(devAddr, req, resp); err != nil {
		return 0, fmt.Errorf("battery: %w", err)
	}
	return int(resp[0]) * milliVoltsPerLSB * 10, nil
}
