package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPayloadTooLarge reports a payload that cannot be carried in the 63-flit
// packet envelope.
var ErrPayloadTooLarge = errors.New("payload exceeds packet capacity")

// payloadEOM terminates the payload on the wire; bytes after it up to the
// 6-byte flit boundary are zero padding.
const payloadEOM = 0xFF

// Packet is a logical message carried across one or more flits.
//
// A packet addresses two hops at once: (LinkSrc, LinkDst) name the current
// hop on the shared medium and are rewritten at each forwarding step, while
// (GlobalSrc, GlobalDst) name the end-to-end path and never change. Either
// destination may be the Broadcast sentinel.
type Packet struct {
	ID        uint8
	Header    Header
	GlobalSrc uint16
	GlobalDst uint16
	LinkSrc   uint16
	LinkDst   uint16
	Payload   []byte
}

// NewPacket assembles a packet, validating that the payload fits the flit
// envelope. Head-only headers must carry no payload.
func NewPacket(id uint8, h Header, globalSrc, globalDst, linkSrc, linkDst uint16, payload []byte) (*Packet, error) {
	p := &Packet{
		ID:        id,
		Header:    h,
		GlobalSrc: globalSrc,
		GlobalDst: globalDst,
		LinkSrc:   linkSrc,
		LinkDst:   linkDst,
		Payload:   payload,
	}
	if h.IsHeadOnly() && len(payload) > 0 {
		return nil, fmt.Errorf("assembling %s packet: head-only header cannot carry %d payload bytes", h, len(payload))
	}
	if p.FlitCount() > MaxPacketFlits {
		return nil, fmt.Errorf("assembling %s packet: %d payload bytes: %w", h, len(payload), ErrPayloadTooLarge)
	}
	return p, nil
}

// FlitCount is the total number of flits the packet fragments into: the
// Head, the preamble, and the terminated zero-padded payload in 6-byte
// slices. Head-only packets are a single flit.
func (p *Packet) FlitCount() int {
	if p.Header.IsHeadOnly() {
		return 1
	}
	return 2 + (len(p.Payload)+1+5)/6
}

// PayloadChecksum is the wrapping byte sum of the payload including the
// end-of-message byte but excluding zero padding.
func PayloadChecksum(payload []byte) uint8 {
	sum := uint8(payloadEOM)
	for _, b := range payload {
		sum += b
	}
	return sum
}

// preamble is the first Body flit of every multi-flit packet. It carries the
// end-to-end addressing that survives link-level rewrites.
func (p *Packet) preamble() [6]byte {
	var d [6]byte
	d[0] = p.ID
	d[1] = PayloadChecksum(p.Payload)
	binary.BigEndian.PutUint16(d[2:4], p.GlobalDst)
	binary.BigEndian.PutUint16(d[4:6], p.GlobalSrc)
	return d
}

// Flits fragments the packet. The Head addresses the current hop; flit 1 is
// the preamble; the remaining flits carry the payload followed by the
// end-of-message byte and zero padding, with the last one typed Tail.
func (p *Packet) Flits() []Flit {
	total := p.FlitCount()
	flits := make([]Flit, 0, total)
	flits = append(flits, MakeHead(uint8(total), p.Header, p.LinkSrc, p.LinkDst, p.ID))
	if p.Header.IsHeadOnly() {
		return flits
	}

	flits = append(flits, MakeBody(1, p.preamble()))

	framed := make([]byte, 0, (len(p.Payload)/6+1)*6)
	framed = append(framed, p.Payload...)
	framed = append(framed, payloadEOM)
	for len(framed)%6 != 0 {
		framed = append(framed, 0)
	}

	for i := 2; i < total; i++ {
		var chunk [6]byte
		copy(chunk[:], framed[(i-2)*6:])
		if i == total-1 {
			flits = append(flits, MakeTail(uint8(i), chunk))
		} else {
			flits = append(flits, MakeBody(uint8(i), chunk))
		}
	}
	return flits
}

// PacketFromFlits reassembles a packet from a Head and its trailing flits.
// Each flit's checksum is verified, flit ids must match their ordinals, a
// Tail may only close the sequence, and the payload checksum from the
// preamble must match the reconstructed payload.
func PacketFromFlits(flits []Flit) (*Packet, error) {
	if len(flits) == 0 {
		return nil, fmt.Errorf("reassembling packet: no flits: %w", ErrUnexpectedFlitType)
	}
	head, err := flits[0].Head()
	if err != nil {
		return nil, fmt.Errorf("reassembling packet: %w", err)
	}

	if head.Header.IsHeadOnly() {
		// Head-only packets travel a single hop; the global pair equals
		// the link pair.
		return &Packet{
			ID:        head.PacketID,
			Header:    head.Header,
			GlobalSrc: head.Src,
			GlobalDst: head.Dst,
			LinkSrc:   head.Src,
			LinkDst:   head.Dst,
		}, nil
	}

	total := int(head.Length)
	if total < 3 || len(flits) != total {
		return nil, fmt.Errorf("reassembling packet: head declares %d flits, have %d: %w",
			total, len(flits), ErrUnexpectedFlitType)
	}

	pre, err := flits[1].Body()
	if err != nil {
		return nil, fmt.Errorf("reassembling packet: preamble: %w", err)
	}
	if pre.FlitID != 1 {
		return nil, fmt.Errorf("reassembling packet: preamble flit id %d: %w", pre.FlitID, ErrUnexpectedFlitType)
	}
	packetID := pre.Payload[0]
	payloadSum := pre.Payload[1]
	globalDst := binary.BigEndian.Uint16(pre.Payload[2:4])
	globalSrc := binary.BigEndian.Uint16(pre.Payload[4:6])

	framed := make([]byte, 0, (total-2)*6)
	for i := 2; i < total; i++ {
		body, err := flits[i].Body()
		if err != nil {
			return nil, fmt.Errorf("reassembling packet: flit %d: %w", i, err)
		}
		if int(body.FlitID) != i {
			return nil, fmt.Errorf("reassembling packet: flit id %d at ordinal %d: %w",
				body.FlitID, i, ErrUnexpectedFlitType)
		}
		if body.Type == FlitTail && i != total-1 {
			return nil, fmt.Errorf("reassembling packet: tail at ordinal %d of %d: %w",
				i, total, ErrUnexpectedFlitType)
		}
		framed = append(framed, body.Payload[:]...)
	}

	// Strip zero padding back to the end-of-message byte.
	end := len(framed)
	for end > 0 && framed[end-1] != payloadEOM {
		end--
	}
	if end == 0 {
		return nil, fmt.Errorf("reassembling packet: no end-of-message byte: %w", ErrUnexpectedFlitType)
	}
	terminated := framed[:end]

	var sum uint8
	for _, b := range terminated {
		sum += b
	}
	if sum != payloadSum {
		return nil, fmt.Errorf("reassembling packet: payload sum 0x%02x, preamble says 0x%02x: %w",
			sum, payloadSum, ErrChecksumMismatch)
	}

	return &Packet{
		ID:        packetID,
		Header:    head.Header,
		GlobalSrc: globalSrc,
		GlobalDst: globalDst,
		LinkSrc:   head.Src,
		LinkDst:   head.Dst,
		Payload:   terminated[:len(terminated)-1],
	}, nil
}

// SetLinkRoute rewrites the current-hop addresses for forwarding. Only the
// Head flit changes when the packet is re-fragmented; the end-to-end pair
// and the payload flits are untouched.
func (p *Packet) SetLinkRoute(src, dst uint16) {
	p.LinkSrc = src
	p.LinkDst = dst
}

// IsBroadcast reports whether the end-to-end destination is the broadcast
// sentinel.
func (p *Packet) IsBroadcast() bool {
	return p.GlobalDst == Broadcast
}
