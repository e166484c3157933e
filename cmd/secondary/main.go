// command secondary runs the SECONDARY-side device: it receives
// macrocycle batches from PRIMARY, applies the synchronized clock
// offset, and executes them locally; it also runs the passive side
// of clock sync (replying to PING) and the boot auto-start window.
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
)

var (
	linkDevice   = flag.String("serial", "/dev/ttyACM0", "BLE UART bridge device")
	diagDevice   = flag.String("diag-serial", "", "diagnostic console serial device (disabled if empty)")
	settingsPath = flag.String("settings", "/var/lib/tactilesync/settings.cbor", "persisted settings file")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tactilesync-secondary: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	log.Println("tactilesync: secondary starting...")

	link, act, batt, err := openHardware(*linkDevice)
	if err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	defer link.Close()

	store := config.New(*settingsPath)
	settings, err := store.Load()
	if err != nil {
		return fmt.Errorf("secondary: %w", err)
	}
	if settings.Role != config.RoleSecondary {
		settings.Role = config.RoleSecondary
		if err := store.Save(settings); err != nil {
			log.Printf("tactilesync: persisting role: %v", err)
		}
	}

	start := time.Now()
	raw := func() uint32 { return uint32(time.Since(start).Microseconds()) }

	e := engine.New(config.RoleSecondary, link, act, batt, store, raw, nil)

	if *diagDevice != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *diagDevice, Baud: 115200})
		if err != nil {
			return fmt.Errorf("secondary: diag port: %w", err)
		}
		defer port.Close()
		go diag.Serve(port, diag.New(e, store))
	}

	stop := make(chan struct{})
	return e.Run(stop)
}
