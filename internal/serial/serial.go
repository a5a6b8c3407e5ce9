// Package serial defines the 8-byte framed link every unit speaks and the
// concrete links the binaries and tests plug in: an in-memory loopback, a
// multi-endpoint in-memory bus, and a WebSocket bridge to the shared-medium
// hub.
//
// The contract is byte-synchronous at the frame boundary: a link hands out
// whole 8-byte frames or nothing. Receive never blocks; Send may block for a
// short hardware-defined bound. Flushing discards buffered frames and is how
// the upper layers resynchronize after a corrupt frame.
package serial

import "errors"

// FrameSize is the size of every on-the-wire unit.
const FrameSize = 8

// Frame is one fixed-size transmission unit.
type Frame [FrameSize]byte

// ErrHardware reports a failure of the underlying medium. Concrete links
// wrap it so callers can classify with errors.Is.
var ErrHardware = errors.New("serial hardware fault")

// Link is the transport contract between a unit and the shared medium.
type Link interface {
	// Send writes one frame. It may block up to a short hardware-defined
	// bound; callers do not interleave sends.
	Send(Frame) error

	// Receive returns the next buffered frame, or ok=false when nothing is
	// currently buffered. It never blocks.
	Receive() (f Frame, ok bool, err error)

	// FlushRead discards buffered inbound frames.
	FlushRead() error

	// FlushWrite discards buffered outbound bytes.
	FlushWrite() error

	// FlushAll discards both directions.
	FlushAll() error
}
