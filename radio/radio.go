// Package radio defines the transport seam between the two devices.
// The physical BLE UART link itself lives outside this module; Link
// is the narrow contract the rest of the core depends on, grounded
// the same way mjolnir.Open returns a plain io.ReadWriteCloser and
// lets the caller supply any transport, including tarm/serial over a
// USB bridge during bring-up.
package radio

import "io"

// Link is a framed, bidirectional byte transport. Production builds
// back it with a BLE UART bridge; development and test builds can use
// an in-memory pipe or a tarm/serial port against a USB-UART adapter.
type Link interface {
	io.ReadWriteCloser
}
