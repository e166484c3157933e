// Package clocksync implements the PTP-style four-timestamp clock
// offset estimator shared between PRIMARY and SECONDARY: cold-start
// acquisition with MAD outlier rejection, warm-start reconnection
// from a cached offset and drift projection, and exponential-moving-
// average maintenance once sync is valid.
//
// The offset convention is offset = t_secondary - t_primary, applied
// additively to a PRIMARY-domain instant to obtain the SECONDARY-
// domain equivalent (local = primary + offset). Some historical
// protocol notes use the opposite sign; this package follows the
// formula, not the prose.
//
// Engine is single-threaded: it is only ever driven from the PRIMARY
// main context, one sample at a time.
package clocksync

import (
	"math"
	"sort"
)

// Tunables from the wire protocol's fixed constants.
const (
	// RTTQualityThreshold rejects any sample whose round trip time
	// exceeds it; the bound is exclusive (a sample at exactly the
	// threshold is rejected).
	RTTQualityThreshold = 60 * Millisecond
	// MaxOffsetMagnitude rejects any sample (and, at the batch
	// layer, any whole macrocycle) whose offset magnitude is at
	// least this large.
	MaxOffsetMagnitude = 35 * Second
	// MinValidSamples is the cold-start sample count required
	// before sync can become valid.
	MinValidSamples = 5
	// OffsetWindow is the capacity of the circular sample window.
	OffsetWindow = 10
	// WarmStartValidity bounds how stale the cache may be for a
	// reconnect to attempt warm start at all.
	WarmStartValidity = 15 * Second
	// WarmStartMinSamples is the number of confirmatory samples
	// required to validate a warm start.
	WarmStartMinSamples = 3
	// WarmStartTolerance bounds how far a confirmatory sample may
	// diverge from the warm-start projection before aborting back
	// to cold start.
	WarmStartTolerance = 5 * Millisecond
	// OutlierThreshold is the floor used alongside 3*MAD when
	// filtering cold-start outliers.
	OutlierThreshold = 5 * Millisecond
	// MaxDriftMeasurement clamps a freshly computed drift-rate
	// sample; larger swings can come from BLE anomalies and should
	// still be recorded, just not trusted fully.
	MaxDriftMeasurement = 0.15 // us per ms
	// MaxDriftApplied clamps the drift actually used to project
	// the offset forward in correctedOffset.
	MaxDriftApplied = 0.10 // us per ms

	// alphaMaintenance is the EMA weight for offset maintenance.
	alphaMaintenance = 1.0 / 10
	// alphaDrift is the EMA weight for drift-rate smoothing.
	alphaDrift = 0.3
	// minDriftInterval is the minimum elapsed time between samples
	// before a drift estimate is computed from them.
	minDriftInterval = 500 * Millisecond
	// projectionCap bounds how far correctedOffset will
	// extrapolate drift beyond the last update.
	projectionCap = 10 * Second
)

// Duration-like microsecond constants, kept local so this package has
// no dependency on time.Duration semantics: every timestamp here is a
// plain device-clock value, never wall-clock/UTC time.
const (
	Millisecond = 1000
	Second      = 1000 * Millisecond
)

// Sample is one accepted four-timestamp measurement.
type Sample struct {
	ValueUS   int64  // offset
	RTTUS     uint32
	ArrivalMS uint32
}

// Cache is the warm-start record: the last maintained offset and
// drift, timestamped, outliving Reset calls until it is
// explicitly invalidated or expires.
type Cache struct {
	OffsetUS     int64
	DriftUSPerMS float32
	SavedAtMS    uint32
	Valid        bool
}

// Engine estimates and maintains the signed offset between the two
// devices' clocks.
type Engine struct {
	window []Sample // bounded to OffsetWindow, oldest first

	valid       bool
	warmStart   bool
	warmConfirm int
	projection  int64

	medianOffset int64
	driftUSPerMS float32
	lastSample   Sample
	haveSample   bool
	lastUpdateMS uint32

	cache Cache
}

// New returns an Engine with no prior state.
func New() *Engine {
	return &Engine{}
}

// Reset clears the sample window and sync validity but preserves the
// warm-start cache, matching "transient disconnect clears the sample
// window but preserves the cache".
func (e *Engine) Reset() {
	e.window = e.window[:0]
	e.valid = false
	e.warmStart = false
	e.warmConfirm = 0
	e.haveSample = false
}

// InvalidateCache discards the warm-start cache outright, e.g. on an
// explicit RESET_CLOCK_SYNC diagnostic command.
func (e *Engine) InvalidateCache() {
	e.cache = Cache{}
}

// Cache returns a copy of the current warm-start cache.
func (e *Engine) Cache() Cache {
	return e.cache
}

// Valid reports whether the engine has enough confidence in its
// offset to be used for scheduling.
func (e *Engine) Valid() bool {
	return e.valid
}

// BeginWarmStart seeds the engine from a cache snapshot captured
// before a reconnect, provided the cache is fresh enough. nowMS is
// the current time on whichever clock SavedAtMS was stamped from
// (PRIMARY's, since the engine only ever runs there).
func (e *Engine) BeginWarmStart(cache Cache, nowMS uint32) bool {
	if !cache.Valid {
		return false
	}
	elapsed := int64(nowMS) - int64(cache.SavedAtMS)
	if elapsed < 0 || elapsed >= WarmStartValidity/Millisecond {
		return false
	}
	e.window = e.window[:0]
	e.valid = false
	e.warmStart = true
	e.warmConfirm = 0
	e.projection = cache.OffsetUS + int64(float64(cache.DriftUSPerMS)*float64(elapsed))
	e.medianOffset = e.projection
	return true
}

// AddSample computes the offset and RTT from a four-timestamp
// exchange and applies it. t1 is sampled by PRIMARY just before
// sending PING; t2 is sampled by SECONDARY on PING receipt; t3 is
// sampled by SECONDARY just before replying with PONG; t4 is sampled
// by PRIMARY on PONG receipt. arrivalMS is PRIMARY's clock reading
// (in ms) at acceptance, used to timestamp the cache.
//
// Rejections (RTT over threshold, offset magnitude over threshold, or
// t3 < t2) are silent: the sample is simply not applied.
func (e *Engine) AddSample(t1, t2, t3, t4 uint64, arrivalMS uint32) {
	if t3 < t2 {
		return
	}
	offset := ((int64(t2) - int64(t1)) + (int64(t3) - int64(t4))) / 2
	rtt := (int64(t4) - int64(t1)) - (int64(t3) - int64(t2))
	if rtt < 0 {
		return
	}
	if rtt >= RTTQualityThreshold {
		return
	}
	if offset >= MaxOffsetMagnitude || offset <= -MaxOffsetMagnitude {
		return
	}
	s := Sample{ValueUS: offset, RTTUS: uint32(rtt), ArrivalMS: arrivalMS}

	switch {
	case e.valid:
		e.maintain(s)
	case e.warmStart:
		e.warmSample(s)
	default:
		e.coldSample(s)
	}
}

func (e *Engine) coldSample(s Sample) {
	e.window = append(e.window, s)
	if len(e.window) > OffsetWindow {
		e.window = e.window[1:]
	}
	if len(e.window) < MinValidSamples {
		return
	}
	values := make([]int64, len(e.window))
	for i, w := range e.window {
		values[i] = w.ValueUS
	}
	prelim := median(values)
	mad := medianAbsoluteDeviation(values, prelim)
	threshold := int64(math.Max(3*float64(mad), OutlierThreshold))
	var filtered []int64
	for _, v := range values {
		if abs64(v-prelim) <= threshold {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) < MinValidSamples {
		return
	}
	e.medianOffset = median(filtered)
	e.valid = true
	e.haveSample = false
	e.refreshCache(s.ArrivalMS)
}

func (e *Engine) warmSample(s Sample) {
	if abs64(s.ValueUS-e.projection) > WarmStartTolerance {
		e.warmStart = false
		e.warmConfirm = 0
		e.InvalidateCache()
		e.coldSample(s)
		return
	}
	e.warmConfirm++
	e.medianOffset = e.projection
	if e.warmConfirm >= WarmStartMinSamples {
		e.valid = true
		e.warmStart = false
		e.haveSample = false
		e.refreshCache(s.ArrivalMS)
	}
}

func (e *Engine) maintain(s Sample) {
	if e.haveSample {
		elapsed := int64(s.ArrivalMS) - int64(e.lastSample.ArrivalMS)
		if elapsed >= int64(minDriftInterval/Millisecond) {
			rate := float32(s.ValueUS-e.lastSample.ValueUS) / float32(elapsed)
			rate = clampF32(rate, -MaxDriftMeasurement, MaxDriftMeasurement)
			e.driftUSPerMS = alphaDrift*rate + (1-alphaDrift)*e.driftUSPerMS
		}
	}
	e.medianOffset = int64(alphaMaintenance*float64(s.ValueUS) + (1-alphaMaintenance)*float64(e.medianOffset))
	e.lastSample = s
	e.haveSample = true
	e.refreshCache(s.ArrivalMS)
}

func (e *Engine) refreshCache(nowMS uint32) {
	e.lastUpdateMS = nowMS
	e.cache = Cache{
		OffsetUS:     e.medianOffset,
		DriftUSPerMS: e.driftUSPerMS,
		SavedAtMS:    nowMS,
		Valid:        true,
	}
}

// CorrectedOffset returns the offset to use right now, extrapolating
// the maintained drift rate forward from the last update, capped at
// projectionCap and at the applied-drift clamp (narrower than the
// measurement clamp: a bad measurement can spike drift, but the
// applied correction never follows it past MaxDriftApplied).
func (e *Engine) CorrectedOffset(nowMS uint32) int64 {
	elapsedMS := int64(nowMS) - int64(e.lastUpdateMS)
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	if elapsedMS > projectionCap/Millisecond {
		elapsedMS = projectionCap / Millisecond
	}
	drift := clampF32(e.driftUSPerMS, -MaxDriftApplied, MaxDriftApplied)
	return e.medianOffset + int64(float64(drift)*float64(elapsedMS))
}

// SampleCount reports the number of samples currently held in the
// offset window. The window is kept after sync becomes valid.
func (e *Engine) SampleCount() int {
	return len(e.window)
}

// MedianOffset returns the engine's current median offset estimate,
// regardless of validity (used by diagnostics).
func (e *Engine) MedianOffset() int64 {
	return e.medianOffset
}

func median(vs []int64) int64 {
	s := append([]int64(nil), vs...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func medianAbsoluteDeviation(vs []int64, center int64) int64 {
	devs := make([]int64, len(vs))
	for i, v := range vs {
		devs[i] = abs64(v - center)
	}
	return median(devs)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
