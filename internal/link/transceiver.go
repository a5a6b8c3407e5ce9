// Package link implements the flit layer over a serial link: typed
// send/receive with checksum verification, the SystemAck handshake for
// requires-ack frames, and packet-level fragmentation I/O.
package link

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/serial"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

// ErrAckTimeout reports a requires-ack send that exhausted its retry budget,
// or a blocking receive that ran out of polls.
var ErrAckTimeout = errors.New("ack timeout")

const (
	// pollDelay is the cooperative delay between receive polls.
	pollDelay = time.Millisecond

	// ackPollLimit bounds the polls spent waiting for a SystemAck after one
	// emission.
	ackPollLimit = 100

	// maxEmissions bounds how many times a requires-ack frame is emitted
	// before giving up.
	maxEmissions = 2

	// recvPollLimit bounds RecvBlocking.
	recvPollLimit = 100
)

// Stats receives link-level accounting. Implementations must be cheap; the
// transceiver calls them on the hot path.
type Stats interface {
	FlitSent()
	FlitReceived()
	ChecksumError()
	AckRetry()
}

// nopStats is used when the caller does not wire metrics.
type nopStats struct{}

func (nopStats) FlitSent()      {}
func (nopStats) FlitReceived()  {}
func (nopStats) ChecksumError() {}
func (nopStats) AckRetry()      {}

// Transceiver exchanges flits and packets over a serial link. It is not safe
// for concurrent use; the networking loop owns it exclusively.
type Transceiver struct {
	link  serial.Link
	log   *slog.Logger
	stats Stats

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New creates a transceiver over the given link.
func New(l serial.Link, logger *slog.Logger) *Transceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transceiver{
		link:  l,
		log:   logger.With("component", "link"),
		stats: nopStats{},
		sleep: time.Sleep,
	}
}

// SetStats wires link-level accounting. Passing nil restores the no-op sink.
func (t *Transceiver) SetStats(s Stats) {
	if s == nil {
		s = nopStats{}
	}
	t.stats = s
}

func (t *Transceiver) emit(f wire.Flit) error {
	if err := t.link.Send(f.Bytes()); err != nil {
		return fmt.Errorf("sending flit: %w", err)
	}
	t.stats.FlitSent()
	return nil
}

// Send emits one flit. When requireAck is set the flit must be a Head; the
// transceiver polls for a SystemAck whose packet id matches and whose source
// is the destination the flit was sent to, re-emitting once before failing
// with ErrAckTimeout.
func (t *Transceiver) Send(f wire.Flit, requireAck bool) error {
	if !requireAck {
		return t.emit(f)
	}

	info, err := f.Head()
	if err != nil {
		return fmt.Errorf("requires-ack send: %w", err)
	}

	for emission := 0; emission < maxEmissions; emission++ {
		if emission > 0 {
			t.stats.AckRetry()
			t.log.Debug("re-emitting unacked flit", "packet_id", info.PacketID, "dst", info.Dst)
		}
		if err := t.emit(f); err != nil {
			return err
		}
		for poll := 0; poll < ackPollLimit; poll++ {
			t.sleep(pollDelay)
			frame, ok, err := t.link.Receive()
			if err != nil {
				return fmt.Errorf("waiting for ack: %w", err)
			}
			if !ok {
				continue
			}
			if wire.FlitFromBytes(frame).IsAckFor(info.Dst, info.PacketID) {
				return nil
			}
			// Anything else heard while waiting is a concurrent
			// transmission; the ack window ignores it.
		}
	}
	return fmt.Errorf("no SystemAck for packet %d from 0x%04x: %w", info.PacketID, info.Dst, ErrAckTimeout)
}

// RecvNonblocking returns the next verified flit, or ok=false when nothing
// is buffered. Nope flits are discarded. When the flit is a Head whose
// header requires an ack, the matching SystemAck is sent before returning
// (passive ack).
func (t *Transceiver) RecvNonblocking() (wire.Flit, bool, error) {
	for {
		frame, ok, err := t.link.Receive()
		if err != nil {
			return 0, false, fmt.Errorf("receiving flit: %w", err)
		}
		if !ok {
			return 0, false, nil
		}
		f := wire.FlitFromBytes(frame)
		switch f.Type() {
		case wire.FlitNope:
			continue
		case wire.FlitHead:
			info, err := f.Head()
			if err != nil {
				t.stats.ChecksumError()
				return 0, false, err
			}
			t.stats.FlitReceived()
			if info.Header.RequiresAck() {
				ack, err := wire.AckOf(f)
				if err != nil {
					return 0, false, err
				}
				if err := t.emit(ack); err != nil {
					return 0, false, err
				}
			}
			return f, true, nil
		default:
			if _, err := f.Body(); err != nil {
				t.stats.ChecksumError()
				return 0, false, err
			}
			t.stats.FlitReceived()
			return f, true, nil
		}
	}
}

// RecvBlocking polls for a flit with the cooperative delay, failing with
// ErrAckTimeout when the poll budget runs out.
func (t *Transceiver) RecvBlocking() (wire.Flit, error) {
	for poll := 0; poll < recvPollLimit; poll++ {
		f, ok, err := t.RecvNonblocking()
		if err != nil {
			return 0, err
		}
		if ok {
			return f, nil
		}
		t.sleep(pollDelay)
	}
	return 0, fmt.Errorf("no flit within %d polls: %w", recvPollLimit, ErrAckTimeout)
}

// SendPacket fragments and emits a packet. Only the Head takes part in the
// ack handshake; Body and Tail flits carry no packet id to match an ack
// against.
func (t *Transceiver) SendPacket(p *wire.Packet) error {
	for i, f := range p.Flits() {
		requireAck := i == 0 && p.Header.RequiresAck()
		if err := t.Send(f, requireAck); err != nil {
			return fmt.Errorf("sending %s packet %d: %w", p.Header, p.ID, err)
		}
	}
	return nil
}

// RecvPacket receives one packet addressed over the shared medium. It
// returns ok=false when no frame is buffered or when the packet is this
// unit's own transmission echoed back by the medium.
func (t *Transceiver) RecvPacket(myMAC uint16) (*wire.Packet, bool, error) {
	first, ok, err := t.RecvNonblocking()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	head, err := first.Head()
	if err != nil {
		return nil, false, fmt.Errorf("receiving packet: %w", err)
	}
	if head.Src == myMAC {
		// Our own frame heard back on the shared medium.
		return nil, false, nil
	}

	flits := append(make([]wire.Flit, 0, int(head.Length)+1), first)
	for i := 1; i < int(head.Length); i++ {
		f, err := t.RecvBlocking()
		if err != nil {
			return nil, false, fmt.Errorf("receiving packet flit %d/%d: %w", i, head.Length, err)
		}
		flits = append(flits, f)
	}

	p, err := wire.PacketFromFlits(flits)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// FlushRead discards buffered inbound frames; used to resynchronize after a
// framing error.
func (t *Transceiver) FlushRead() error {
	return t.link.FlushRead()
}

// FlushAll discards both directions.
func (t *Transceiver) FlushAll() error {
	return t.link.FlushAll()
}
