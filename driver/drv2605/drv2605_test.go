package drv2605

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

func TestConfigureSetsRTPMode(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus)
	if err := d.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if bus.regs[regMode] != modeRTP {
		t.Fatalf("MODE = %#x, want RTP (%#x)", bus.regs[regMode], modeRTP)
	}
}

func TestSetFrequencyAtBaseHz(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus)
	if err := d.SetFrequency(0); err != nil { // 200 Hz
		t.Fatalf("SetFrequency: %v", err)
	}
	periodUS := 1_000_000.0 / 200.0
	want := uint8(periodUS / lraPeriodLSBus)
	if bus.regs[regLRAPeriod] != want {
		t.Fatalf("LRA_PERIOD = %d, want %d", bus.regs[regLRAPeriod], want)
	}
}

func TestSetAmplitudeClampsToRange(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus)
	d.SetAmplitude(200)
	if bus.regs[regRTPInput] != 127 {
		t.Fatalf("RTP_INPUT = %d, want clamped to 127", bus.regs[regRTPInput])
	}
	d.SetAmplitude(-5)
	if bus.regs[regRTPInput] != 0 {
		t.Fatalf("RTP_INPUT = %d, want clamped to 0", bus.regs[regRTPInput])
	}
}

func TestStopZeroesAndStandsBy(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus)
	d.SetAmplitude(90)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if bus.regs[regRTPInput] != 0 {
		t.Fatalf("RTP_INPUT after Stop = %d, want 0", bus.regs[regRTPInput])
	}
	if bus.regs[regMode] != modeStandby {
		t.Fatalf("MODE after Stop = %#x, want standby", bus.regs[regMode])
	}
}
