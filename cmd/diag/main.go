// command diag is a terminal client for the device's serial
// diagnostic console: it relays commands typed on stdin to the
// device and prints whatever comes back, one line per response.
//
// Supported commands (sent verbatim, validated and answered by the
// device): SET_ROLE, GET_ROLE, SET_PROFILE, GET_PROFILE, LATENCY_ON,
// LATENCY_ON_VERBOSE, LATENCY_OFF, GET_LATENCY, RESET_LATENCY,
// GET_CLOCK_SYNC, GET_SYNC_STATS, RESET_CLOCK_SYNC, FACTORY_RESET,
// REBOOT, TEST, STOP, GET_VERSION.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tarm/serial"
)

var device = flag.String("device", "/dev/ttyUSB0", "diagnostic serial device")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tactilesync-diag: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: 115200})
	if err != nil {
		return fmt.Errorf("diag: %w", err)
	}
	defer port.Close()

	go relay(port, os.Stdout)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if _, err := fmt.Fprintf(port, "%s\n", in.Text()); err != nil {
			return fmt.Errorf("diag: write: %w", err)
		}
	}
	return in.Err()
}

// relay copies every line the device sends back to out, until the
// port is closed.
func relay(port io.Reader, out io.Writer) {
	r := bufio.NewScanner(port)
	for r.Scan() {
		fmt.Fprintln(out, r.Text())
	}
}
