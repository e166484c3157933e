// Package diag implements the device side of the serial diagnostic
// console: a line-oriented command/response protocol distinct from
// the BLE UART link, used for factory test, field support, and
// development. Each line in is one command; each reply is one line
// out, with the first colon-delimited token identifying the result
// for machine consumers.
package diag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"tactilesync.dev/clocksync"
	"tactilesync.dev/config"
	"tactilesync.dev/metrics"
	"tactilesync.dev/session"
)

// Engine is the narrow slice of engine.Engine the diagnostic console
// needs, kept local so this package doesn't import engine (which
// would be a needless dependency cycle risk as the root package
// grows).
type Engine interface {
	Session() *session.Machine
	Sync() *clocksync.Engine
	Metrics() *metrics.Recorder
}

// Handler dispatches one diagnostic command line at a time. It holds
// no goroutines or I/O of its own; callers own the serial port and
// feed it lines.
type Handler struct {
	e     Engine
	store *config.Store
}

// New returns a Handler bound to e's live state and store's
// persisted settings.
func New(e Engine, store *config.Store) *Handler {
	return &Handler{e: e, store: store}
}

// Handle processes one command line and returns the response to
// write back, and whether the device should now reboot (REBOOT).
func (h *Handler) Handle(line string) (reply string, reboot bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), ":")
	switch cmd {
	case "GET_ROLE":
		return h.getRole(), false
	case "SET_ROLE":
		return h.setRole(arg), false
	case "GET_PROFILE":
		return h.getProfile(), false
	case "SET_PROFILE":
		return h.setProfile(arg), false
	case "LATENCY_ON":
		h.e.Metrics().SetEnabled(true)
		h.e.Metrics().SetVerbose(false)
		return "OK", false
	case "LATENCY_ON_VERBOSE":
		h.e.Metrics().SetEnabled(true)
		h.e.Metrics().SetVerbose(true)
		return "OK", false
	case "LATENCY_OFF":
		h.e.Metrics().SetEnabled(false)
		return "OK", false
	case "GET_LATENCY":
		return h.e.Metrics().Snapshot().String(), false
	case "RESET_LATENCY":
		h.e.Metrics().Reset()
		return "OK", false
	case "GET_CLOCK_SYNC":
		return h.getClockSync(), false
	case "GET_SYNC_STATS":
		return h.getSyncStats(), false
	case "RESET_CLOCK_SYNC":
		if sync := h.e.Sync(); sync != nil {
			sync.Reset()
			sync.InvalidateCache()
		}
		return "OK", false
	case "FACTORY_RESET":
		if err := h.store.FactoryReset(); err != nil {
			return fmt.Sprintf("ERR:%v", err), false
		}
		return "OK", false
	case "REBOOT":
		return "OK", true
	case "TEST":
		return h.selfTest(), false
	case "STOP":
		h.e.Session().Fire(session.StopSession, "diagnostic console")
		return "OK", false
	case "GET_VERSION":
		return version(), false
	default:
		return "ERR:unknown command", false
	}
}

func (h *Handler) getRole() string {
	st, err := h.store.Load()
	if err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	return fmt.Sprintf("ROLE:%s", st.Role)
}

func (h *Handler) setRole(arg string) string {
	var role config.Role
	switch arg {
	case "PRIMARY":
		role = config.RolePrimary
	case "SECONDARY":
		role = config.RoleSecondary
	default:
		return "ERR:role must be PRIMARY or SECONDARY"
	}
	st, err := h.store.Load()
	if err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	st.Role = role
	if err := h.store.Save(st); err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	return "OK"
}

func (h *Handler) getProfile() string {
	st, err := h.store.Load()
	if err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	return fmt.Sprintf("PROFILE:%s", st.ProfileName)
}

func (h *Handler) setProfile(arg string) string {
	if arg == "" {
		return "ERR:profile name required"
	}
	st, err := h.store.Load()
	if err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	st.ProfileName = arg
	if err := h.store.Save(st); err != nil {
		return fmt.Sprintf("ERR:%v", err)
	}
	return "OK"
}

func (h *Handler) getClockSync() string {
	sync := h.e.Sync()
	if sync == nil {
		return "SYNC:n/a"
	}
	return fmt.Sprintf("SYNC:valid=%v offset_us=%d", sync.Valid(), sync.MedianOffset())
}

func (h *Handler) getSyncStats() string {
	sync := h.e.Sync()
	if sync == nil {
		return "SYNC_STATS:n/a"
	}
	return fmt.Sprintf("SYNC_STATS:samples=%d", sync.SampleCount())
}

// selfTest reports session and sync health as a quick field check.
// It performs no actuation: that would require exclusive access to
// the motor queue the running session already owns.
func (h *Handler) selfTest() string {
	state := h.e.Session().State()
	return fmt.Sprintf("TEST:session=%s", state)
}

// Serve reads commands line by line from rw, writes each reply back,
// and exits the process on REBOOT. It returns when rw's reader reaches
// end of input or returns an error.
func Serve(rw io.ReadWriter, h *Handler) {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		reply, reboot := h.Handle(scanner.Text())
		fmt.Fprintf(rw, "%s\n", reply)
		if reboot {
			os.Exit(0)
		}
	}
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "VERSION:unknown"
	}
	return fmt.Sprintf("VERSION:%s", info.Main.Version)
}
