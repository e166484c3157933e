// Package leadtime computes the per-batch scheduling horizon for the
// therapy engine from smoothed round-trip-time statistics:
// lead_time = 2L + 6V + overhead, clamped into [MinLeadTime,
// MaxLeadTime].
package leadtime

import "math"

const (
	// MinLeadTime and MaxLeadTime bound the returned horizon,
	// regardless of measured statistics.
	MinLeadTime = 70_000 // us
	MaxLeadTime = 150_000

	// secondaryOverheadUS and primaryOverheadUS are the fixed
	// processing-overhead terms added to every estimate.
	secondaryOverheadUS = 10_000
	primaryOverheadUS   = 5_000

	// minSamplesForEstimate is the number of RTT observations
	// required before the estimator trusts its own statistics; below
	// this it simply returns MinLeadTime.
	minSamplesForEstimate = 5
)

// Estimator maintains a Welford-style running mean and variance of
// one-way latency derived from RTT samples, and exposes the
// resulting scheduling horizon.
type Estimator struct {
	n        int
	meanOWUS float64 // smoothed one-way latency
	m2       float64 // running sum of squared deviations (variance * n)
}

// New returns an Estimator with no observations.
func New() *Estimator {
	return &Estimator{}
}

// Observe records one more round-trip-time sample, in microseconds.
func (e *Estimator) Observe(rttUS uint32) {
	ow := float64(rttUS) / 2
	e.n++
	delta := ow - e.meanOWUS
	e.meanOWUS += delta / float64(e.n)
	delta2 := ow - e.meanOWUS
	e.m2 += delta * delta2
}

// Samples reports how many observations have been recorded.
func (e *Estimator) Samples() int {
	return e.n
}

func (e *Estimator) variance() float64 {
	if e.n < 2 {
		return 0
	}
	return e.m2 / float64(e.n)
}

// LeadTime returns the scheduling horizon for the next batch, in
// microseconds, clamped to [MinLeadTime, MaxLeadTime].
func (e *Estimator) LeadTime() uint32 {
	if e.n < minSamplesForEstimate {
		return MinLeadTime
	}
	l := e.meanOWUS
	v := math.Sqrt(e.variance())
	lead := 2*l + 6*v + secondaryOverheadUS + primaryOverheadUS
	return clamp(lead, MinLeadTime, MaxLeadTime)
}

func clamp(v float64, lo, hi uint32) uint32 {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return uint32(v)
}
