// Package wire defines the on-the-wire format of the display fabric: the
// 64-bit flit framing and the variable-length packets assembled from flits.
//
// Every transmission unit is exactly 8 bytes, big-endian:
//
//	Head:      [ type(2) | length(6) | header(8) | src(16) | dst(16) | packet_id(8) | checksum(8) ]
//	Body/Tail: [ type(2) | flit_id(6) | payload(48) | checksum(8) ]
//	Nope:      [ type(2) | 62 zero bits ]
//
// This package is intentionally free of external dependencies so it can be
// compiled for constrained targets.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flit is a single 64-bit framed transmission unit.
type Flit uint64

// FlitType is the 2-bit tag in the top bits of a flit.
type FlitType uint8

const (
	FlitNope FlitType = 0b00
	FlitHead FlitType = 0b01
	FlitBody FlitType = 0b10
	FlitTail FlitType = 0b11
)

const (
	// FrameSize is the size of every on-the-wire unit in bytes.
	FrameSize = 8

	// MaxPacketFlits bounds the flit count of a packet; length and flit_id
	// are 6-bit fields.
	MaxPacketFlits = 63

	// Broadcast is the broadcast destination sentinel.
	Broadcast uint16 = 0xFFFF
)

var (
	// ErrChecksumMismatch reports a flit or packet whose computed checksum
	// does not match the stored one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnexpectedFlitType reports a flit observed out of place: a Head
	// where a Body/Tail was required, a Tail before the last ordinal, or a
	// flit_id out of sequence.
	ErrUnexpectedFlitType = errors.New("unexpected flit type")

	// ErrUnknownHeader reports a Head flit whose header byte is not one the
	// stack speaks.
	ErrUnknownHeader = errors.New("unknown header")
)

func (t FlitType) String() string {
	switch t {
	case FlitNope:
		return "nope"
	case FlitHead:
		return "head"
	case FlitBody:
		return "body"
	case FlitTail:
		return "tail"
	}
	return fmt.Sprintf("flit-type(%d)", uint8(t))
}

// FlitFromBytes reinterprets an 8-byte frame as a flit.
func FlitFromBytes(b [FrameSize]byte) Flit {
	return Flit(binary.BigEndian.Uint64(b[:]))
}

// Bytes returns the big-endian frame of f.
func (f Flit) Bytes() [FrameSize]byte {
	var b [FrameSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(f))
	return b
}

// Type extracts the 2-bit type tag.
func (f Flit) Type() FlitType {
	return FlitType(f >> 62)
}

// Checksum is the wrapping sum of the first seven bytes of a frame; it is
// stored in the eighth.
func Checksum(b [FrameSize]byte) uint8 {
	var sum uint8
	for _, v := range b[:FrameSize-1] {
		sum += v
	}
	return sum
}

func sealed(b [FrameSize]byte) Flit {
	b[7] = Checksum(b)
	return FlitFromBytes(b)
}

// MakeHead builds a Head flit. length is the total flit count of the packet
// the head opens.
func MakeHead(length uint8, h Header, src, dst uint16, packetID uint8) Flit {
	var b [FrameSize]byte
	b[0] = uint8(FlitHead)<<6 | length&0x3F
	b[1] = uint8(h)
	binary.BigEndian.PutUint16(b[2:4], src)
	binary.BigEndian.PutUint16(b[4:6], dst)
	b[6] = packetID
	return sealed(b)
}

func makeBodyOrTail(t FlitType, flitID uint8, payload [6]byte) Flit {
	var b [FrameSize]byte
	b[0] = uint8(t)<<6 | flitID&0x3F
	copy(b[1:7], payload[:])
	return sealed(b)
}

// MakeBody builds a Body flit carrying six payload bytes.
func MakeBody(flitID uint8, payload [6]byte) Flit {
	return makeBodyOrTail(FlitBody, flitID, payload)
}

// MakeTail builds a Tail flit carrying six payload bytes.
func MakeTail(flitID uint8, payload [6]byte) Flit {
	return makeBodyOrTail(FlitTail, flitID, payload)
}

// MakeNope builds the all-zero filler flit.
func MakeNope() Flit {
	return Flit(0)
}

// HeadInfo is the decoded contents of a Head flit.
type HeadInfo struct {
	Length   uint8
	Header   Header
	Src      uint16
	Dst      uint16
	PacketID uint8
}

// BodyInfo is the decoded contents of a Body or Tail flit.
type BodyInfo struct {
	Type    FlitType
	FlitID  uint8
	Payload [6]byte
}

// Head decodes f as a Head flit, verifying the checksum.
func (f Flit) Head() (HeadInfo, error) {
	if f.Type() != FlitHead {
		return HeadInfo{}, fmt.Errorf("decoding head flit: got %s: %w", f.Type(), ErrUnexpectedFlitType)
	}
	b := f.Bytes()
	if Checksum(b) != b[7] {
		return HeadInfo{}, fmt.Errorf("decoding head flit: computed 0x%02x, stored 0x%02x: %w",
			Checksum(b), b[7], ErrChecksumMismatch)
	}
	h := Header(b[1])
	if !h.Valid() {
		return HeadInfo{}, fmt.Errorf("decoding head flit: byte 0x%02x: %w", b[1], ErrUnknownHeader)
	}
	return HeadInfo{
		Length:   b[0] & 0x3F,
		Header:   h,
		Src:      binary.BigEndian.Uint16(b[2:4]),
		Dst:      binary.BigEndian.Uint16(b[4:6]),
		PacketID: b[6],
	}, nil
}

// Body decodes f as a Body or Tail flit, verifying the checksum.
func (f Flit) Body() (BodyInfo, error) {
	t := f.Type()
	if t != FlitBody && t != FlitTail {
		return BodyInfo{}, fmt.Errorf("decoding body flit: got %s: %w", t, ErrUnexpectedFlitType)
	}
	b := f.Bytes()
	if Checksum(b) != b[7] {
		return BodyInfo{}, fmt.Errorf("decoding body flit: computed 0x%02x, stored 0x%02x: %w",
			Checksum(b), b[7], ErrChecksumMismatch)
	}
	info := BodyInfo{Type: t, FlitID: b[0] & 0x3F}
	copy(info.Payload[:], b[1:7])
	return info, nil
}

// Header extracts the header byte of a Head flit without full decoding.
func (f Flit) Header() (Header, error) {
	if f.Type() != FlitHead {
		return 0, fmt.Errorf("reading flit header: got %s: %w", f.Type(), ErrUnexpectedFlitType)
	}
	h := Header(f.Bytes()[1])
	if !h.Valid() {
		return 0, fmt.Errorf("reading flit header: byte 0x%02x: %w", f.Bytes()[1], ErrUnknownHeader)
	}
	return h, nil
}

// AckOf builds the SystemAck answering the given Head flit. The ack carries
// the packet_id of the acked frame with the address pair reoriented toward
// the original sender, so the sender's match rule (ack src equals the sent
// dst) holds.
func AckOf(head Flit) (Flit, error) {
	info, err := head.Head()
	if err != nil {
		return 0, fmt.Errorf("building ack: %w", err)
	}
	return MakeHead(0, SystemAck, info.Dst, info.Src, info.PacketID), nil
}

// IsAckFor reports whether f is the SystemAck matching a Head flit sent with
// the given destination and packet id.
func (f Flit) IsAckFor(sentDst uint16, packetID uint8) bool {
	info, err := f.Head()
	if err != nil {
		return false
	}
	return info.Header == SystemAck && info.PacketID == packetID && info.Src == sentDst
}
