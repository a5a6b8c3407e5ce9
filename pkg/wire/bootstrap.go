package wire

import (
	"encoding/binary"
	"fmt"
)

// CoordRecord is one 6-byte entry of a ConfirmCoordinate payload: a unit and
// the signed grid coordinate attributed to it.
type CoordRecord struct {
	MAC uint16
	X   int16
	Y   int16
}

// coordRecordSize is the wire size of one record.
const coordRecordSize = 6

// NewCheckConnection builds the head-only broadcast probing for neighbors on
// the shared medium.
func NewCheckConnection(src uint16) *Packet {
	return &Packet{
		Header:    CheckConnection,
		GlobalSrc: src,
		GlobalDst: Broadcast,
		LinkSrc:   src,
		LinkDst:   Broadcast,
	}
}

// NewCoordRequest builds the head-only bootstrap broadcast asking neighbors
// to report confirmed coordinates.
func NewCoordRequest(src uint16) *Packet {
	return &Packet{
		Header:    RequestConfirmedCoord,
		GlobalSrc: src,
		GlobalDst: Broadcast,
		LinkSrc:   src,
		LinkDst:   Broadcast,
	}
}

// NewConfirmCoordinate builds the reply to a coordinate request. A confirmed
// sender reports exactly one record, its own coordinate; an unconfirmed
// sender relays the records it has observed so far. The payload is a single
// confirmation byte followed by 6-byte records.
func NewConfirmCoordinate(src uint16, confirmed bool, records []CoordRecord) (*Packet, error) {
	if confirmed && len(records) != 1 {
		return nil, fmt.Errorf("building confirm-coordinate: confirmed sender must report exactly one record, got %d", len(records))
	}
	payload := make([]byte, 1, 1+len(records)*coordRecordSize)
	if confirmed {
		payload[0] = 0xFF
	}
	for _, r := range records {
		var b [coordRecordSize]byte
		binary.BigEndian.PutUint16(b[0:2], r.MAC)
		binary.BigEndian.PutUint16(b[2:4], uint16(r.X))
		binary.BigEndian.PutUint16(b[4:6], uint16(r.Y))
		payload = append(payload, b[:]...)
	}
	return NewPacket(0, ConfirmCoordinate, src, Broadcast, src, Broadcast, payload)
}

// ConfirmCoordinateRecords parses the payload of a ConfirmCoordinate packet.
// Whether the records are trustworthy for the receiving unit is a protocol
// decision left to the caller.
func (p *Packet) ConfirmCoordinateRecords() (confirmed bool, records []CoordRecord, err error) {
	if p.Header != ConfirmCoordinate {
		return false, nil, fmt.Errorf("parsing confirm-coordinate: header is %s", p.Header)
	}
	if len(p.Payload) < 1 || (len(p.Payload)-1)%coordRecordSize != 0 {
		return false, nil, fmt.Errorf("parsing confirm-coordinate: payload length %d", len(p.Payload))
	}
	confirmed = p.Payload[0] != 0
	body := p.Payload[1:]
	records = make([]CoordRecord, 0, len(body)/coordRecordSize)
	for i := 0; i < len(body); i += coordRecordSize {
		records = append(records, CoordRecord{
			MAC: binary.BigEndian.Uint16(body[i : i+2]),
			X:   int16(binary.BigEndian.Uint16(body[i+2 : i+4])),
			Y:   int16(binary.BigEndian.Uint16(body[i+4 : i+6])),
		})
	}
	if confirmed && len(records) != 1 {
		return false, nil, fmt.Errorf("parsing confirm-coordinate: confirmed sender reported %d records", len(records))
	}
	return confirmed, records, nil
}
