// Package wire implements the textual, pipe-delimited frame protocol
// used between the PRIMARY and SECONDARY haptic devices.
//
// Frames are ASCII, fields are separated by '|', and every frame is
// terminated by a single 0x04 (EOT) byte:
//
//	frame      := cmd ":" seq "|" ts [ "|" field ]* EOT
//	macrocycle := "MC:" seq "|" bH "|" bL "|" oH "|" oL "|" dur "|" n ( "|" d "," f "," a [ "," fo ] ){n}
//	ack        := "MC_ACK:" seq EOT
//	ping       := "PING:"   seq "|" t1 EOT
//	pong       := "PONG:"   seq "|" 0 "|" t2 "|" t3 EOT
//
// 64-bit values are split into two 32-bit decimal fields (high then
// low) so the wire format never depends on a particular runtime's
// 64-bit integer printing.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EOT terminates every frame on the wire.
const EOT = 0x04

// BatchEventMax is the maximum number of events a macrocycle batch
// may carry.
const BatchEventMax = 12

// ErrMalformed is returned for any frame that does not parse:
// missing colon, non-decimal fields, too few fields, or a declared
// event count over BatchEventMax. Semantic range validation (offset
// magnitude, base time skew, and so on) is not this package's job.
var ErrMalformed = errors.New("wire: malformed frame")

// Kind identifies the parsed command of a frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindReady
	KindStartSession
	KindPauseSession
	KindResumeSession
	KindStopSession
	KindPing
	KindPong
	KindMacrocycle
	KindMacrocycleAck
	KindParamUpdate
	KindSeed
	KindSeedAck
	KindGetBattery
	KindBatteryResponse
)

// EventKind distinguishes the two kinds of motor event carried in a
// macrocycle frame.
type EventKind int

const (
	EventActivate EventKind = iota
	EventDeactivate
)

// EventSpec is one event inside a Batch, in wire form: a millisecond
// delta from the batch's BaseTimeUS, a finger, and (for ACTIVATE)
// amplitude and a frequency offset.
type EventSpec struct {
	DeltaMS    uint32
	Finger     int
	Amplitude  int
	FreqOffset int // (freq_hz - 200) / 5; 0 when absent.
}

// Batch is a macrocycle: a group of up to BatchEventMax future events
// sharing one absolute anchor time and one ON duration.
type Batch struct {
	SequenceID    uint32
	BaseTimeUS    uint64 // PRIMARY domain.
	ClockOffsetUS int64
	DurationMS    uint16
	Events        []EventSpec
}

// Frame is the parsed, generic shape of any frame on the wire. Only
// the fields relevant to Kind are populated; callers that know they
// hold a macrocycle can use ParseBatch instead.
type Frame struct {
	Kind       Kind
	SequenceID uint32

	// Ping/Pong
	T1, T2, T3 uint64

	// Batch
	Batch Batch

	// ParamUpdate
	Params map[string]string

	// Seed
	SeedCount uint32

	// BatteryResponse
	MilliVolts uint32
}

func splitHiLo(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

func hiLo(v uint64) (hi, lo uint32) {
	return uint32(v >> 32), uint32(v)
}

// parseUint32 parses a decimal, non-negative 32-bit field.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, ErrMalformed
	}
	return uint32(v), nil
}

func parseUint64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return v, nil
}

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return v, nil
}

// Parse decodes one frame. raw must not include the terminating EOT
// byte (callers typically split on EOT first, see Reader).
func Parse(raw []byte) (Frame, error) {
	s := string(raw)
	cmd, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Frame{}, ErrMalformed
	}
	fields := strings.Split(rest, "|")

	switch cmd {
	case "READY":
		return Frame{Kind: KindReady}, nil
	case "START_SESSION", "PAUSE_SESSION", "RESUME_SESSION", "STOP_SESSION":
		if len(fields) < 2 {
			return Frame{}, ErrMalformed
		}
		seq, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		kind := map[string]Kind{
			"START_SESSION":  KindStartSession,
			"PAUSE_SESSION":  KindPauseSession,
			"RESUME_SESSION": KindResumeSession,
			"STOP_SESSION":   KindStopSession,
		}[cmd]
		return Frame{Kind: kind, SequenceID: seq}, nil
	case "PING":
		if len(fields) < 2 {
			return Frame{}, ErrMalformed
		}
		seq, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		t1, err := parseUint64(fields[1])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindPing, SequenceID: seq, T1: t1}, nil
	case "PONG":
		if len(fields) < 4 {
			return Frame{}, ErrMalformed
		}
		seq, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		t2, err := parseUint64(fields[2])
		if err != nil {
			return Frame{}, err
		}
		t3, err := parseUint64(fields[3])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindPong, SequenceID: seq, T2: t2, T3: t3}, nil
	case "MC":
		return parseMacrocycle(fields)
	case "MC_ACK":
		if len(fields) < 1 {
			return Frame{}, ErrMalformed
		}
		seq, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindMacrocycleAck, SequenceID: seq}, nil
	case "PARAM_UPDATE":
		kv := strings.Split(rest, ":")
		if len(kv) < 2 || len(kv)%2 != 0 {
			return Frame{}, ErrMalformed
		}
		params := make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			params[kv[i]] = kv[i+1]
		}
		return Frame{Kind: KindParamUpdate, Params: params}, nil
	case "SEED":
		if len(fields) < 1 {
			return Frame{}, ErrMalformed
		}
		n, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindSeed, SeedCount: n}, nil
	case "SEED_ACK":
		return Frame{Kind: KindSeedAck}, nil
	case "GET_BATTERY":
		return Frame{Kind: KindGetBattery}, nil
	case "BAT_RESPONSE":
		if len(fields) < 1 || fields[0] == "" {
			return Frame{}, ErrMalformed
		}
		mv, err := parseUint32(fields[0])
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: KindBatteryResponse, MilliVolts: mv}, nil
	default:
		// Unknown commands (including a stale peer's per-event BUZZ
		// frames) are silently dropped, not treated as malformed.
		return Frame{Kind: KindUnknown}, nil
	}
}

func parseMacrocycle(fields []string) (Frame, error) {
	// seq|bH|bL|oH|oL|dur|n, then n event fields.
	if len(fields) < 6 {
		return Frame{}, ErrMalformed
	}
	seq, err := parseUint32(fields[0])
	if err != nil {
		return Frame{}, err
	}
	bH, err := parseUint32(fields[1])
	if err != nil {
		return Frame{}, err
	}
	bL, err := parseUint32(fields[2])
	if err != nil {
		return Frame{}, err
	}
	oH, err := parseUint32(fields[3])
	if err != nil {
		return Frame{}, err
	}
	oL, err := parseUint32(fields[4])
	if err != nil {
		return Frame{}, err
	}
	dur, err := parseUint32(fields[5])
	if err != nil {
		return Frame{}, err
	}
	if len(fields) < 7 {
		return Frame{}, ErrMalformed
	}
	n, err := parseUint32(fields[6])
	if err != nil {
		return Frame{}, err
	}
	if n > BatchEventMax {
		return Frame{}, ErrMalformed
	}
	if uint32(len(fields)-7) < n {
		return Frame{}, ErrMalformed
	}
	events := make([]EventSpec, 0, n)
	for i := uint32(0); i < n; i++ {
		ev, err := parseEventSpec(fields[7+i])
		if err != nil {
			return Frame{}, err
		}
		events = append(events, ev)
	}
	return Frame{
		Kind:       KindMacrocycle,
		SequenceID: seq,
		Batch: Batch{
			SequenceID:    seq,
			BaseTimeUS:    splitHiLo(bH, bL),
			ClockOffsetUS: int64(splitHiLo(oH, oL)),
			DurationMS:    uint16(dur),
			Events:        events,
		},
	}, nil
}

func parseEventSpec(s string) (EventSpec, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return EventSpec{}, ErrMalformed
	}
	d, err := parseUint32(parts[0])
	if err != nil {
		return EventSpec{}, err
	}
	f, err := strconv.Atoi(parts[1])
	if err != nil {
		return EventSpec{}, ErrMalformed
	}
	a, err := strconv.Atoi(parts[2])
	if err != nil {
		return EventSpec{}, ErrMalformed
	}
	fo := 0
	if len(parts) > 3 {
		v, err := strconv.Atoi(parts[3])
		if err != nil {
			return EventSpec{}, ErrMalformed
		}
		fo = v
	}
	return EventSpec{DeltaMS: d, Finger: f, Amplitude: a, FreqOffset: fo}, nil
}

// ParseBatch parses a frame known to be a macrocycle and returns its
// Batch, or an error if it is not one.
func ParseBatch(raw []byte) (Batch, error) {
	f, err := Parse(raw)
	if err != nil {
		return Batch{}, err
	}
	if f.Kind != KindMacrocycle {
		return Batch{}, ErrMalformed
	}
	return f.Batch, nil
}

// EncodeMacrocycle serializes a batch into a framed MC message,
// including the terminating EOT byte.
func EncodeMacrocycle(b Batch) ([]byte, error) {
	if len(b.Events) > BatchEventMax {
		return nil, fmt.Errorf("wire: %d events exceeds max %d", len(b.Events), BatchEventMax)
	}
	bH, bL := hiLo(b.BaseTimeUS)
	oH, oL := hiLo(uint64(b.ClockOffsetUS))
	var sb strings.Builder
	fmt.Fprintf(&sb, "MC:%d|%d|%d|%d|%d|%d|%d",
		b.SequenceID, bH, bL, oH, oL, b.DurationMS, len(b.Events))
	for _, e := range b.Events {
		sb.WriteByte('|')
		if e.FreqOffset != 0 {
			fmt.Fprintf(&sb, "%d,%d,%d,%d", e.DeltaMS, e.Finger, e.Amplitude, e.FreqOffset)
		} else {
			fmt.Fprintf(&sb, "%d,%d,%d", e.DeltaMS, e.Finger, e.Amplitude)
		}
	}
	sb.WriteByte(EOT)
	return []byte(sb.String()), nil
}

// EncodeAck serializes an MC_ACK reply.
func EncodeAck(seq uint32) []byte {
	return []byte(fmt.Sprintf("MC_ACK:%d%c", seq, EOT))
}

// EncodePing serializes a PING with the sender's t1 timestamp.
func EncodePing(seq uint32, t1 uint64) []byte {
	return []byte(fmt.Sprintf("PING:%d|%d%c", seq, t1, EOT))
}

// EncodePong serializes a PONG reply with the receiver's t2/t3.
func EncodePong(seq uint32, t2, t3 uint64) []byte {
	return []byte(fmt.Sprintf("PONG:%d|0|%d|%d%c", seq, t2, t3, EOT))
}

// EncodeSessionControl serializes one of the session control
// commands (START_SESSION, PAUSE_SESSION, RESUME_SESSION,
// STOP_SESSION).
func EncodeSessionControl(cmd string, seq uint32, ts uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d|%d%c", cmd, seq, ts, EOT))
}

// EncodeReady serializes the SECONDARY->PRIMARY readiness frame.
func EncodeReady() []byte {
	return []byte(fmt.Sprintf("READY:0|0%c", EOT))
}

// EncodeGetBattery serializes a GET_BATTERY request.
func EncodeGetBattery() []byte {
	return []byte(fmt.Sprintf("GET_BATTERY:0%c", EOT))
}

// EncodeBatteryResponse serializes a BAT_RESPONSE reply.
func EncodeBatteryResponse(milliVolts uint32) []byte {
	return []byte(fmt.Sprintf("BAT_RESPONSE:%d%c", milliVolts, EOT))
}
