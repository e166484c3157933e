package wire

import (
	"bytes"
	"testing"
)

func TestMacrocycleRoundTrip(t *testing.T) {
	b := Batch{
		SequenceID:    42,
		BaseTimeUS:    1_080_000,
		ClockOffsetUS: 45_000,
		DurationMS:    100,
		Events: []EventSpec{
			{DeltaMS: 0, Finger: 0, Amplitude: 100, FreqOffset: 10},
			{DeltaMS: 167, Finger: 1, Amplitude: 80, FreqOffset: 0},
		},
	}
	raw, err := EncodeMacrocycle(b)
	if err != nil {
		t.Fatalf("EncodeMacrocycle: %v", err)
	}
	if raw[len(raw)-1] != EOT {
		t.Fatalf("frame not EOT-terminated")
	}
	got, err := ParseBatch(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if got.SequenceID != b.SequenceID || got.BaseTimeUS != b.BaseTimeUS ||
		got.ClockOffsetUS != b.ClockOffsetUS || got.DurationMS != b.DurationMS {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, b)
	}
	if len(got.Events) != len(b.Events) {
		t.Fatalf("event count mismatch: got %d, want %d", len(got.Events), len(b.Events))
	}
	for i := range b.Events {
		if got.Events[i] != b.Events[i] {
			t.Fatalf("event %d mismatch: got %+v, want %+v", i, got.Events[i], b.Events[i])
		}
	}
}

func TestMacrocycleBaseTimePreservedExact(t *testing.T) {
	// A base time spanning both 32-bit halves must survive the hi/lo
	// split exactly.
	b := Batch{SequenceID: 1, BaseTimeUS: (1<<33 + 12345), DurationMS: 1}
	raw, err := EncodeMacrocycle(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseBatch(raw[:len(raw)-1])
	if err != nil {
		t.Fatal(err)
	}
	if got.BaseTimeUS != b.BaseTimeUS {
		t.Fatalf("BaseTimeUS = %d, want %d", got.BaseTimeUS, b.BaseTimeUS)
	}
}

func TestNegativeOffsetRoundTrips(t *testing.T) {
	b := Batch{SequenceID: 7, BaseTimeUS: 1000, ClockOffsetUS: -3950, DurationMS: 5}
	raw, err := EncodeMacrocycle(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseBatch(raw[:len(raw)-1])
	if err != nil {
		t.Fatal(err)
	}
	if got.ClockOffsetUS != -3950 {
		t.Fatalf("ClockOffsetUS = %d, want -3950", got.ClockOffsetUS)
	}
}

func TestEventCountOverMaxRejected(t *testing.T) {
	b := Batch{SequenceID: 1, DurationMS: 1}
	for i := 0; i < BatchEventMax+1; i++ {
		b.Events = append(b.Events, EventSpec{DeltaMS: uint32(i), Finger: i % 4, Amplitude: 50})
	}
	if _, err := EncodeMacrocycle(b); err == nil {
		t.Fatal("expected error encoding over-max batch")
	}
}

func TestParseRejectsDeclaredCountOverMax(t *testing.T) {
	raw := []byte("MC:1|0|0|0|0|100|13")
	if _, err := Parse(raw); err != ErrMalformed {
		t.Fatalf("Parse() err = %v, want ErrMalformed", err)
	}
}

func TestParseRejectsMissingColon(t *testing.T) {
	if _, err := Parse([]byte("PING 1|10000")); err != ErrMalformed {
		t.Fatalf("Parse() err = %v, want ErrMalformed", err)
	}
}

func TestParseRejectsNonDecimalField(t *testing.T) {
	if _, err := Parse([]byte("PING:abc|10000")); err != ErrMalformed {
		t.Fatalf("Parse() err = %v, want ErrMalformed", err)
	}
}

func TestParseRejectsTooFewFields(t *testing.T) {
	if _, err := Parse([]byte("PONG:1|0|2")); err != ErrMalformed {
		t.Fatalf("Parse() err = %v, want ErrMalformed", err)
	}
}

func TestUnknownCommandDropped(t *testing.T) {
	// An older peer's per-event BUZZ frame must not fail to parse.
	f, err := Parse([]byte("BUZZ:1|0|2"))
	if err != nil {
		t.Fatalf("Parse() err = %v, want nil", err)
	}
	if f.Kind != KindUnknown {
		t.Fatalf("Kind = %v, want KindUnknown", f.Kind)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	ping := EncodePing(1, 10000)
	f, err := Parse(ping[:len(ping)-1])
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindPing || f.SequenceID != 1 || f.T1 != 10000 {
		t.Fatalf("got %+v", f)
	}

	pong := EncodePong(1, 12000, 12100)
	f, err = Parse(pong[:len(pong)-1])
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindPong || f.SequenceID != 1 || f.T2 != 12000 || f.T3 != 12100 {
		t.Fatalf("got %+v", f)
	}
}

func TestReaderSplitsOnEOT(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodePing(1, 100))
	buf.Write(EncodeAck(2))
	r := NewReader(&buf)

	f1, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f1.Kind != KindPing {
		t.Fatalf("f1.Kind = %v", f1.Kind)
	}
	f2, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f2.Kind != KindMacrocycleAck || f2.SequenceID != 2 {
		t.Fatalf("f2 = %+v", f2)
	}
}

func TestParamUpdateRoundTrip(t *testing.T) {
	f, err := Parse([]byte("PARAM_UPDATE:amplitude:80:freq:250"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindParamUpdate || f.Params["amplitude"] != "80" || f.Params["freq"] != "250" {
		t.Fatalf("got %+v", f)
	}
}

func TestBatteryResponseRoundTrip(t *testing.T) {
	raw := EncodeBatteryResponse(3700)
	f, err := Parse(raw[:len(raw)-1])
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindBatteryResponse || f.MilliVolts != 3700 {
		t.Fatalf("got %+v", f)
	}
}
