// Package node ties the mesh stack together for one display unit: it runs
// the coordinate bootstrap at power-up and afterwards moves packets between
// the application and the shared medium, forwarding traffic that is only
// passing through.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
	"github.com/kons-9/shapechangeable-computer/internal/link"
	"github.com/kons-9/shapechangeable-computer/internal/routing"
	"github.com/kons-9/shapechangeable-computer/internal/serial"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

// Node is one unit of the display fabric. It owns the serial link
// exclusively; none of its methods are safe for concurrent use.
type Node struct {
	word identity.Word
	mac  uint16

	tx    *link.Transceiver
	table *routing.Table
	log   *slog.Logger

	coord    identity.Coordinate
	location identity.Quadrant
	ip       uint8
	hasIP    bool

	packetID uint8

	rng   *rand.Rand
	sleep func(time.Duration)
}

// New brings a unit onto the fabric. A root unit knows its coordinate from
// its identity word and returns immediately; any other unit runs the
// coordinate bootstrap against its neighbors, blocking until it converges
// or ctx is cancelled.
func New(ctx context.Context, l serial.Link, word identity.Word, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		word:  word,
		mac:   word.MAC(),
		tx:    link.New(l, logger),
		table: routing.NewTable(),
		log:   logger.With("component", "node", "mac", word.String()),
		rng:   rand.New(rand.NewSource(int64(word.MAC())*2654435761 + time.Now().UnixNano())),
		sleep: time.Sleep,
	}

	if word.IsRoot() {
		n.initRoot()
		return n, nil
	}

	n.log.Info("starting coordinate bootstrap")
	start := time.Now()
	if err := n.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrapping coordinate: %w", err)
	}
	n.log.Info("coordinate confirmed",
		"coordinate", n.coord, "location", n.location, "took", time.Since(start))
	return n, nil
}

// initRoot derives the whole root cell from the unit's own identity word:
// each quadrant encoding substituted into the word names one of the four
// root units, and each quadrant fixes its coordinate.
func (n *Node) initRoot() {
	n.coord = n.word.Quadrant().RootCoordinate()
	n.location = n.word.Quadrant()

	for q := identity.Quadrant(0); q < 4; q++ {
		peer := n.word.WithQuadrant(q)
		ip, err := n.table.Join(peer.MAC(), q.RootCoordinate())
		if err != nil {
			// Root coordinates are inside the grid by construction.
			continue
		}
		if peer == n.word {
			n.ip = ip
			n.hasIP = true
		}
	}
	n.log.Info("root unit ready", "coordinate", n.coord, "location", n.location)
}

// SetStats wires link-level accounting into the transceiver.
func (n *Node) SetStats(s link.Stats) {
	n.tx.SetStats(s)
}

// Send emits a packet onto the medium.
func (n *Node) Send(p *wire.Packet) error {
	return n.tx.SendPacket(p)
}

// GetPacket receives one packet. Broadcasts and packets addressed to this
// unit are returned; unicasts passing through are re-emitted toward their
// destination and ok=false is returned. A framing error is recovered
// locally: the read side is flushed and the receive retried once.
func (n *Node) GetPacket() (*wire.Packet, bool, error) {
	return n.getPacket(true)
}

func (n *Node) getPacket(retry bool) (*wire.Packet, bool, error) {
	p, ok, err := n.tx.RecvPacket(n.mac)
	if err != nil {
		if errors.Is(err, serial.ErrHardware) {
			_ = n.tx.FlushAll()
			return nil, false, err
		}
		n.log.Debug("framing error, resynchronizing", "error", err)
		_ = n.tx.FlushRead()
		if retry {
			return n.getPacket(false)
		}
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	if p.IsBroadcast() || p.GlobalDst == n.mac {
		return p, true, nil
	}

	n.forward(p)
	return nil, false, nil
}

// forward re-emits a unicast that is passing through this unit, rewriting
// only the link-level addresses. Packets for flows this unit does not sit
// on, or whose endpoints it cannot place on the grid yet, are dropped. A
// requires-ack Head was already acknowledged when it was received, so the
// sender is not told of the drop.
func (n *Node) forward(p *wire.Packet) {
	srcCoord, okSrc := n.table.Coordinate(p.GlobalSrc)
	dstCoord, okDst := n.table.Coordinate(p.GlobalDst)
	if !okSrc || !okDst {
		n.log.Debug("cannot place packet endpoints, dropping",
			"global_src", p.GlobalSrc, "global_dst", p.GlobalDst)
		return
	}
	if !routing.IsInRoute(n.coord, srcCoord, dstCoord) {
		return
	}
	hop, ok := routing.NextHop(n.coord, dstCoord)
	if !ok {
		return
	}
	hopMAC, ok := n.table.MACAt(hop)
	if !ok {
		n.log.Debug("no unit known at next hop, dropping", "hop", hop)
		return
	}
	p.SetLinkRoute(n.mac, hopMAC)
	if err := n.tx.SendPacket(p); err != nil {
		n.log.Warn("forwarding failed", "packet_id", p.ID, "error", err)
	}
}

// MakePacket stamps a new outgoing packet with the next packet id and the
// link-level next hop toward globalDst.
func (n *Node) MakePacket(h wire.Header, globalDst uint16, payload []byte) (*wire.Packet, error) {
	linkDst := globalDst
	if globalDst != wire.Broadcast {
		if dstCoord, ok := n.table.Coordinate(globalDst); ok {
			if hop, stepped := routing.NextHop(n.coord, dstCoord); stepped {
				if mac, known := n.table.MACAt(hop); known {
					linkDst = mac
				}
			}
		}
	}
	p, err := wire.NewPacket(n.packetID, h, n.mac, globalDst, n.mac, linkDst, payload)
	if err != nil {
		return nil, err
	}
	n.packetID++
	return p, nil
}

// Messages unwraps the next received packet to its payload bytes.
func (n *Node) Messages() ([]byte, bool, error) {
	p, ok, err := n.GetPacket()
	if err != nil || !ok {
		return nil, false, err
	}
	return p.Payload, true, nil
}

// ConfirmReply builds the single-record confirmation a confirmed unit
// broadcasts in answer to a coordinate request.
func (n *Node) ConfirmReply() (*wire.Packet, error) {
	return wire.NewConfirmCoordinate(n.mac, true, []wire.CoordRecord{
		{MAC: n.mac, X: n.coord.X, Y: n.coord.Y},
	})
}

// CheckConnection probes the medium for a cross-localnet neighbor: it
// broadcasts a probe and reports whether a probe reply from outside this
// unit's local net is heard within the listen window.
func (n *Node) CheckConnection() (bool, error) {
	if err := n.tx.SendPacket(wire.NewCheckConnection(n.mac)); err != nil {
		return false, fmt.Errorf("sending connection probe: %w", err)
	}
	for poll := 0; poll < listenPollLimit; poll++ {
		p, ok, err := n.tx.RecvPacket(n.mac)
		if err != nil {
			_ = n.tx.FlushRead()
			return false, err
		}
		if !ok {
			n.sleep(listenPollDelay)
			continue
		}
		if p.Header == wire.CheckConnection && !identity.SameLocalNet(n.word, identity.Word(p.GlobalSrc)) {
			return true, nil
		}
	}
	return false, nil
}

// Identity is the unit's identity word.
func (n *Node) Identity() identity.Word { return n.word }

// MAC is the unit's link-layer address.
func (n *Node) MAC() uint16 { return n.mac }

// Coordinate is the unit's global grid position, valid once New returns.
func (n *Node) Coordinate() identity.Coordinate { return n.coord }

// LocalLocation is the quadrant fused into the identity word.
func (n *Node) LocalLocation() identity.Quadrant { return n.word.Quadrant() }

// GlobalLocation is the unit's orientation on the global grid as derived by
// the bootstrap; for a root unit it equals the local location.
func (n *Node) GlobalLocation() identity.Quadrant { return n.location }

// IP is the unit's linear grid index; ok is false when the coordinate lies
// outside the 4×4 grid.
func (n *Node) IP() (uint8, bool) { return n.ip, n.hasIP }

// IsRoot reports whether this unit belongs to the origin cell.
func (n *Node) IsRoot() bool { return n.word.IsRoot() }
