package metrics

import "testing"

func TestDisabledRecordingIsNoop(t *testing.T) {
	r := New()
	r.RecordExecution(1000, 2000)
	r.RecordRTT(5000)
	snap := r.Snapshot()
	if snap.ExecCount != 0 || snap.RTTCount != 0 {
		t.Fatalf("disabled recorder accumulated state: %+v", snap)
	}
}

func TestAggregatesAndLateEarly(t *testing.T) {
	r := New()
	r.SetEnabled(true)
	r.RecordExecution(1000, 1000)      // on time
	r.RecordExecution(1000, 3000)      // late by 2000us > threshold
	r.RecordExecution(2000, 1500)      // early
	snap := r.Snapshot()
	if snap.ExecCount != 3 {
		t.Fatalf("ExecCount = %d, want 3", snap.ExecCount)
	}
	if snap.LateCount != 1 {
		t.Fatalf("LateCount = %d, want 1", snap.LateCount)
	}
	if snap.EarlyCount != 1 {
		t.Fatalf("EarlyCount = %d, want 1", snap.EarlyCount)
	}
	if snap.DriftMaxUS != 2000 {
		t.Fatalf("DriftMaxUS = %d, want 2000", snap.DriftMaxUS)
	}
}

func TestConfidenceGrades(t *testing.T) {
	cases := []struct {
		rtts []uint32
		want Grade
	}{
		{[]uint32{10000, 15000}, GradeHigh},
		{[]uint32{10000, 25000}, GradeMedium},
		{[]uint32{10000, 40000}, GradeLow},
	}
	for _, c := range cases {
		r := New()
		r.SetEnabled(true)
		for _, rtt := range c.rtts {
			r.RecordRTT(rtt)
		}
		if got := r.Snapshot().Confidence; got != c.want {
			t.Fatalf("rtts=%v: confidence = %v, want %v", c.rtts, got, c.want)
		}
	}
}

func TestResetPreservesEnabledState(t *testing.T) {
	r := New()
	r.SetEnabled(true)
	r.RecordExecution(0, 500)
	r.Reset()
	if !r.Enabled() {
		t.Fatal("Reset disabled recording")
	}
	if snap := r.Snapshot(); snap.ExecCount != 0 {
		t.Fatalf("ExecCount after reset = %d, want 0", snap.ExecCount)
	}
}
