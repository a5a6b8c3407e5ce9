package wire

import "fmt"

// Header is the 8-bit packet type carried in every Head flit. The numeric
// values are part of the wire format and must not be reordered.
type Header uint8

const (
	// Data carries an application payload.
	Data Header = iota
	// GeneralAck is an application-level acknowledgment.
	GeneralAck
	// ErrorReport carries an application-level error report.
	ErrorReport

	// CheckConnection probes for a cross-localnet neighbor on the shared
	// medium. Head-only.
	CheckConnection
	// RequestConfirmedCoord is the bootstrap broadcast asking neighbors for
	// any confirmed coordinates. Head-only.
	RequestConfirmedCoord
	// ConfirmCoordinate answers a RequestConfirmedCoord with known
	// (mac, x, y) tuples.
	ConfirmCoordinate

	// SendParentID, ReceiveParentID, SendChildID and ReceiveChildID are
	// reserved for the tree overlay.
	SendParentID
	ReceiveParentID
	SendChildID
	ReceiveChildID

	// SystemAck is the link-level acknowledgment for requires-ack frames.
	// Head-only.
	SystemAck
)

// headerNames doubles as the validity table: any byte outside it is not a
// header this stack speaks.
var headerNames = map[Header]string{
	Data:                  "data",
	GeneralAck:            "general-ack",
	ErrorReport:           "error-report",
	CheckConnection:       "check-connection",
	RequestConfirmedCoord: "request-confirmed-coord",
	ConfirmCoordinate:     "confirm-coordinate",
	SendParentID:          "send-parent-id",
	ReceiveParentID:       "receive-parent-id",
	SendChildID:           "send-child-id",
	ReceiveChildID:        "receive-child-id",
	SystemAck:             "system-ack",
}

// Valid reports whether h is a known header value.
func (h Header) Valid() bool {
	_, ok := headerNames[h]
	return ok
}

// IsHeadOnly reports whether packets with this header consist of a single
// Head flit and carry no payload.
func (h Header) IsHeadOnly() bool {
	switch h {
	case CheckConnection, RequestConfirmedCoord, SystemAck:
		return true
	}
	return false
}

// RequiresAck reports whether a Head flit with this header must be retried
// until a matching SystemAck is observed.
func (h Header) RequiresAck() bool {
	switch h {
	case Data, GeneralAck, ErrorReport,
		SendParentID, ReceiveParentID, SendChildID, ReceiveChildID:
		return true
	}
	return false
}

func (h Header) String() string {
	if name, ok := headerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("header(0x%02x)", uint8(h))
}
