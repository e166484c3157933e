// Package clock implements a wrap-safe monotonic microsecond clock.
//
// The hardware counter behind a Source is only 32 bits wide, so it
// wraps roughly every 71 minutes when read as microseconds. Source
// composes a 64-bit timeline out of the 32-bit counter by tracking
// the number of times it has wrapped, and is safe to call from both
// the radio-callback context and the motor task or main context.
package clock

import "sync"

// Raw is the hardware counter: a free-running microsecond tick that
// wraps at 2^32. Implementations must be cheap enough to call from
// any context, including from inside a radio receive callback.
type Raw func() uint32

// Source composes a 64-bit microsecond timeline out of a 32-bit Raw
// counter. The zero value is not usable; use New.
type Source struct {
	raw Raw

	mu         sync.Mutex
	overflows  uint64
	lastSample uint32
}

// New returns a Source reading ticks from raw.
func New(raw Raw) *Source {
	return &Source{raw: raw}
}

// NowUS returns the current time in microseconds since the Source was
// created (modulo wherever the underlying counter started).
//
// The read is serialized against concurrent callers: sample raw,
// compare against the last sample, bump the overflow count on a
// decrease, store the new sample, then compose. Without this, two
// concurrent callers straddling a wrap could observe a false
// decrease and jump the timeline backward by 2^32 microseconds.
func (s *Source) NowUS() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.raw()
	if raw < s.lastSample {
		s.overflows++
	}
	s.lastSample = raw
	return s.overflows<<32 | uint64(raw)
}

// NowMS returns the current time in milliseconds.
func (s *Source) NowMS() uint64 {
	return s.NowUS() / 1000
}
