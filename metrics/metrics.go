// Package metrics implements the toggleable latency/RTT aggregator:
// rolling execution-drift and RTT statistics with an aggregated
// textual report and a confidence grade.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LateThresholdUS is the drift magnitude above which an execution
// counts as "late".
const LateThresholdUS = 1000

// Grade is a coarse confidence label derived from RTT spread.
type Grade int

const (
	GradeHigh Grade = iota
	GradeMedium
	GradeLow
)

func (g Grade) String() string {
	switch g {
	case GradeHigh:
		return "HIGH"
	case GradeMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Recorder accumulates execution-drift and RTT statistics. When
// disabled, every recording call is a single branch and returns
// immediately.
type Recorder struct {
	enabled atomic.Bool
	verbose atomic.Bool

	mu sync.Mutex

	execCount int64
	driftMin  int64
	driftMax  int64
	driftSum  int64
	late      int64
	early     int64

	rttCount int64
	rttMin   uint32
	rttMax   uint32
	rttSum   uint64
}

// New returns a disabled Recorder.
func New() *Recorder {
	return &Recorder{}
}

// SetEnabled toggles recording. Disabling does not reset aggregates.
func (r *Recorder) SetEnabled(on bool) {
	r.enabled.Store(on)
}

// SetVerbose toggles the verbose reporting mode (LATENCY_ON_VERBOSE
// on the diagnostic surface); it has no effect on what is recorded.
func (r *Recorder) SetVerbose(on bool) {
	r.verbose.Store(on)
}

// Enabled reports whether recording is currently active.
func (r *Recorder) Enabled() bool {
	return r.enabled.Load()
}

// RecordExecution records one motor event's drift: actualUS minus
// scheduledUS, sampled after the I/O to the actuator (the long pole).
func (r *Recorder) RecordExecution(scheduledUS, actualUS uint64) {
	if !r.enabled.Load() {
		return
	}
	drift := int64(actualUS) - int64(scheduledUS)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.execCount == 0 || drift < r.driftMin {
		r.driftMin = drift
	}
	if r.execCount == 0 || drift > r.driftMax {
		r.driftMax = drift
	}
	r.driftSum += drift
	r.execCount++
	if drift > LateThresholdUS {
		r.late++
	}
	if drift < 0 {
		r.early++
	}
}

// RecordRTT records one PONG's round-trip time in microseconds.
func (r *Recorder) RecordRTT(rttUS uint32) {
	if !r.enabled.Load() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rttCount == 0 || rttUS < r.rttMin {
		r.rttMin = rttUS
	}
	if r.rttCount == 0 || rttUS > r.rttMax {
		r.rttMax = rttUS
	}
	r.rttSum += uint64(rttUS)
	r.rttCount++
}

// Reset clears all aggregates without changing the enabled state.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execCount, r.driftMin, r.driftMax, r.driftSum = 0, 0, 0, 0
	r.late, r.early = 0, 0
	r.rttCount, r.rttMin, r.rttMax, r.rttSum = 0, 0, 0, 0
}

// Report is a snapshot of all maintained aggregates.
type Report struct {
	ExecCount   int64
	DriftMinUS  int64
	DriftMaxUS  int64
	DriftMeanUS float64
	LateCount   int64
	EarlyCount  int64

	RTTCount   int64
	RTTMinUS   uint32
	RTTMaxUS   uint32
	RTTMeanUS  float64
	Confidence Grade
}

// Snapshot returns the current aggregates.
func (r *Recorder) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{
		ExecCount:  r.execCount,
		DriftMinUS: r.driftMin,
		DriftMaxUS: r.driftMax,
		LateCount:  r.late,
		EarlyCount: r.early,
		RTTCount:   r.rttCount,
		RTTMinUS:   r.rttMin,
		RTTMaxUS:   r.rttMax,
	}
	if r.execCount > 0 {
		rep.DriftMeanUS = float64(r.driftSum) / float64(r.execCount)
	}
	if r.rttCount > 0 {
		rep.RTTMeanUS = float64(r.rttSum) / float64(r.rttCount)
	}
	spread := rep.RTTMaxUS - rep.RTTMinUS
	switch {
	case r.rttCount == 0:
		rep.Confidence = GradeLow
	case spread < 10_000:
		rep.Confidence = GradeHigh
	case spread < 20_000:
		rep.Confidence = GradeMedium
	default:
		rep.Confidence = GradeLow
	}
	return rep
}

// String renders a report the way the diagnostic serial surface
// prints it.
func (rep Report) String() string {
	return fmt.Sprintf(
		"exec: count=%d min=%dus max=%dus mean=%.1fus late=%d early=%d | rtt: count=%d min=%dus max=%dus mean=%.1fus confidence=%s",
		rep.ExecCount, rep.DriftMinUS, rep.DriftMaxUS, rep.DriftMeanUS, rep.LateCount, rep.EarlyCount,
		rep.RTTCount, rep.RTTMinUS, rep.RTTMaxUS, rep.RTTMeanUS, rep.Confidence,
	)
}
