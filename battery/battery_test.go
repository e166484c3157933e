package battery

import "testing"

type fakeBus struct {
	regs [256]uint8
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if len(r) == 0 {
		f.regs[w[0]] = w[1]
		return nil
	}
	r[0] = f.regs[w[0]]
	return nil
}

func TestVoltageMVScalesRegisterValue(t *testing.T) {
	bus := &fakeBus{}
	bus.regs[regVoltage] = 100
	m := New(bus)
	mv, err := m.VoltageMV()
	if err != nil {
		t.Fatalf("VoltageMV: %v", err)
	}
	if want := 100 * milliVoltsPerLSB * 10; mv != want {
		t.Fatalf("VoltageMV = %d, want %d", mv, want)
	}
}
