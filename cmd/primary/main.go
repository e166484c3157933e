// command primary runs the PRIMARY-side therapy engine: it keeps
// clock sync and lead-time estimation, generates macrocycle batches
// from a pattern source, and transmits them to SECONDARY over the
// BLE UART bridge.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tarm/serial"

	"tactilesync.dev/config"
	"tactilesync.dev/diag"
	"tactilesync.dev/engine"
	"tactilesync.dev/wire"
)

var (
	linkDevice   = flag.String("serial", "/dev/ttyACM0", "BLE UART bridge device")
	diagDevice   = flag.String("diag-serial", "", "diagnostic console serial device (disabled if empty)")
	settingsPath = flag.String("settings", "/var/lib/tactilesync/settings.cbor", "persisted settings file")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tactilesync-primary: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("tactilesync: primary starting...")

	link, act, batt, err := openHardware(*linkDevice)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	defer link.Close()

	store := config.New(*settingsPath)
	settings, err := store.Load()
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if settings.Role != config.RolePrimary {
		settings.Role = config.RolePrimary
		if err := store.Save(settings); err != nil {
			log.Printf("tactilesync: persisting role: %v", err)
		}
	}

	start := time.Now()
	raw := func() uint32 { return uint32(time.Since(start).Microseconds()) }

	gen := newPatternGenerator(settings.ProfileName)

	e := engine.New(config.RolePrimary, link, act, batt, store, raw, gen)

	if *diagDevice != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *diagDevice, Baud: 115200})
		if err != nil {
			return fmt.Errorf("primary: diag port: %w", err)
		}
		defer port.Close()
		go diag.Serve(port, diag.New(e, store))
	}

	stop := make(chan struct{})
	return e.Run(stop)
}

// patternGenerator is a minimal built-in pattern source: pattern
// selection and persistence live outside this module's scope, so
// this is only a placeholder stream of events good enough to drive
// the engine end to end. Real deployments should supply their own
// therapy.Generator wired to a profile store.
type patternGenerator struct {
	profile string
	finger  int
	emitted int
}

func newPatternGenerator(profile string) *patternGenerator {
	return &patternGenerator{profile: profile}
}

const patternRepeatCount = 480 // events in all before the pattern is exhausted

func (g *patternGenerator) Next() (wire.EventSpec, bool) {
	if g.emitted >= patternRepeatCount {
		return wire.EventSpec{}, false
	}
	ev := wire.EventSpec{
		DeltaMS:    uint32(g.finger * 5),
		Finger:     g.finger,
		Amplitude:  100,
		FreqOffset: 0,
	}
	g.finger = (g.finger + 1) % 4
	g.emitted++
	return ev, true
}
