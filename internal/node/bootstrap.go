package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

var (
	// ErrBootstrapTimeout reports a listen window that expired without a
	// usable reply; the request cycle restarts on it.
	ErrBootstrapTimeout = errors.New("bootstrap listen window expired")

	// ErrBootstrapInconsistent reports a confirmed-neighbor table that
	// cannot be reconciled into a coordinate.
	ErrBootstrapInconsistent = errors.New("bootstrap evidence inconsistent")
)

const (
	// Broadcast back-off: first delay uniform in [1, backoffInitMax),
	// doubled per failure up to backoffMax, reset on a usable reply.
	backoffInitMax = 100 * time.Millisecond
	backoffMax     = 10 * time.Second

	// listenPollLimit bounds each listen window; listenPollDelay is the
	// cooperative delay between empty polls.
	listenPollLimit = 100
	listenPollDelay = 10 * time.Millisecond

	// settleDelay gives neighbors time to answer after a request before
	// the first poll.
	settleDelay = 10 * time.Millisecond
)

// confirmedTuple is one row of the confirmed-neighbor table: reporter said
// that subject sits at coord. reporter equals subject exactly when the
// reporter is confirmed and speaks about itself.
type confirmedTuple struct {
	reporter uint16
	subject  uint16
	coord    identity.Coordinate
}

func (n *Node) jitteredInit() time.Duration {
	return time.Millisecond + time.Duration(n.rng.Int63n(int64(backoffInitMax-time.Millisecond)))
}

func (n *Node) backoff(d time.Duration) time.Duration {
	n.sleep(d)
	d *= 2
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// bootstrap converges on this unit's global coordinate by broadcasting
// coordinate requests and accumulating confirmed-neighbor evidence until it
// suffices, then computing the coordinate and joining the grid. While
// listening it also serves other units' requests with whatever it has
// observed so far.
func (n *Node) bootstrap(ctx context.Context) error {
	var evidence []confirmedTuple
	delay := n.jitteredInit()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if bootstrapReady(evidence, n.word) {
			coord, loc, err := computeCoordinate(evidence, n.word)
			if err != nil {
				n.log.Error("discarding evidence", "error", err, "rows", len(evidence))
				evidence = evidence[:0]
				delay = n.backoff(delay)
				continue
			}
			n.commitCoordinate(coord, loc, evidence)
			return nil
		}

		if err := n.tx.SendPacket(wire.NewCoordRequest(n.mac)); err != nil {
			n.log.Debug("coordinate request failed", "error", err)
			_ = n.tx.FlushAll()
			delay = n.backoff(delay)
			continue
		}
		n.sleep(settleDelay)

		if err := n.listen(&evidence); err != nil {
			n.log.Debug("restarting request cycle", "error", err)
			delay = n.backoff(delay)
			continue
		}
		delay = n.jitteredInit()
	}
}

// listen runs one bounded listen window. It returns nil once a usable
// bootstrap packet was processed and ErrBootstrapTimeout when the window
// expires.
func (n *Node) listen(evidence *[]confirmedTuple) error {
	for poll := 0; poll < listenPollLimit; poll++ {
		p, ok, err := n.tx.RecvPacket(n.mac)
		if err != nil {
			n.log.Debug("dropping garbled traffic", "error", err)
			_ = n.tx.FlushAll()
			continue
		}
		if !ok {
			n.sleep(listenPollDelay)
			continue
		}

		switch p.Header {
		case wire.ConfirmCoordinate:
			if err := n.ingestConfirm(evidence, p); err != nil {
				n.log.Debug("ignoring confirm reply", "error", err)
				continue
			}
			return nil
		case wire.RequestConfirmedCoord:
			n.serveRequest(*evidence, p)
			return nil
		default:
			// Not bootstrap traffic; keep listening.
		}
	}
	return ErrBootstrapTimeout
}

// ingestConfirm merges a ConfirmCoordinate reply into the evidence table.
// An unconfirmed reporter is only trusted when it is an in-net neighbor of
// this unit; rows are deduplicated on the full triple.
func (n *Node) ingestConfirm(evidence *[]confirmedTuple, p *wire.Packet) error {
	confirmed, records, err := p.ConfirmCoordinateRecords()
	if err != nil {
		return err
	}
	reporter := identity.Word(p.GlobalSrc)
	if !confirmed && !identity.AreLocalNeighbors(n.word, reporter) {
		return fmt.Errorf("unconfirmed reporter %s is not an in-net neighbor", reporter)
	}

	for _, r := range records {
		row := confirmedTuple{
			reporter: p.GlobalSrc,
			subject:  r.MAC,
			coord:    identity.Coordinate{X: r.X, Y: r.Y},
		}
		if !containsTuple(*evidence, row) {
			*evidence = append(*evidence, row)
			n.log.Debug("evidence added",
				"reporter", identity.Word(row.reporter), "subject", identity.Word(row.subject), "coord", row.coord)
		}
	}
	return nil
}

// serveRequest answers another unit's coordinate request with the subjects
// observed so far. With nothing observed there is nothing worth saying.
func (n *Node) serveRequest(evidence []confirmedTuple, req *wire.Packet) {
	if len(evidence) == 0 {
		return
	}
	records := make([]wire.CoordRecord, 0, len(evidence))
	seen := make(map[uint16]bool, len(evidence))
	for _, row := range evidence {
		if seen[row.subject] {
			continue
		}
		seen[row.subject] = true
		records = append(records, wire.CoordRecord{MAC: row.subject, X: row.coord.X, Y: row.coord.Y})
	}
	reply, err := wire.NewConfirmCoordinate(n.mac, false, records)
	if err != nil {
		n.log.Debug("building confirm reply", "error", err)
		return
	}
	if err := n.tx.SendPacket(reply); err != nil {
		n.log.Debug("sending confirm reply", "requester", identity.Word(req.GlobalSrc), "error", err)
	}
}

// commitCoordinate makes the computed coordinate this unit's permanent
// position and registers everything the bootstrap learned with the routing
// table. The evidence table is discarded afterwards.
func (n *Node) commitCoordinate(coord identity.Coordinate, loc identity.Quadrant, evidence []confirmedTuple) {
	n.coord = coord
	n.location = loc
	n.packetID = 1

	for _, row := range evidence {
		if _, err := n.table.Join(row.subject, row.coord); err != nil {
			n.log.Debug("neighbor outside grid not registered",
				"subject", identity.Word(row.subject), "coord", row.coord)
		}
	}
	ip, err := n.table.Join(n.mac, coord)
	if err != nil {
		n.log.Warn("joining global grid", "coordinate", coord, "error", err)
		return
	}
	n.ip = ip
	n.hasIP = true
}

func containsTuple(rows []confirmedTuple, row confirmedTuple) bool {
	for _, r := range rows {
		if r == row {
			return true
		}
	}
	return false
}

// bootstrapReady reports whether the evidence suffices to place this unit:
// either a neighbor already knows this unit's coordinate, or two reported
// coordinates are axis-adjacent and fix the seam geometry.
func bootstrapReady(evidence []confirmedTuple, word identity.Word) bool {
	if len(evidence) == 0 {
		return false
	}
	for _, row := range evidence {
		if row.subject == word.MAC() {
			return true
		}
	}
	_, _, ok := findAdjacentPair(evidence)
	return ok
}

func findAdjacentPair(evidence []confirmedTuple) (confirmedTuple, confirmedTuple, bool) {
	for i := 0; i < len(evidence); i++ {
		for j := i + 1; j < len(evidence); j++ {
			if identity.L1Distance(evidence[i].coord, evidence[j].coord) == 1 {
				return evidence[i], evidence[j], true
			}
		}
	}
	return confirmedTuple{}, confirmedTuple{}, false
}

// computeCoordinate derives this unit's coordinate and grid orientation
// from the evidence table. A row about this unit itself means an in-net
// neighbor already placed it; otherwise the seam geometry of an
// axis-adjacent pair is used.
func computeCoordinate(evidence []confirmedTuple, word identity.Word) (identity.Coordinate, identity.Quadrant, error) {
	for _, row := range evidence {
		if row.subject == word.MAC() {
			return coordinateFromLocalNet(evidence, word)
		}
	}
	return coordinateFromSeam(evidence, word)
}

// coordinateFromLocalNet handles the case of an already-confirmed in-net
// neighbor: it reported the coordinates of the local net, including this
// unit's own. The orientation follows from which corner of the cell this
// unit occupies.
func coordinateFromLocalNet(evidence []confirmedTuple, word identity.Word) (identity.Coordinate, identity.Quadrant, error) {
	var local []confirmedTuple
	for _, row := range evidence {
		if identity.SameLocalNet(word, identity.Word(row.subject)) {
			local = append(local, row)
		}
	}

	var own identity.Coordinate
	found := false
	for _, row := range local {
		if row.subject == word.MAC() {
			own = row.coord
			found = true
			break
		}
	}
	if !found {
		return identity.Coordinate{}, 0, fmt.Errorf(
			"local net reported without this unit's coordinate: %w", ErrBootstrapInconsistent)
	}

	anyBiggerX, anyBiggerY := false, false
	for _, row := range local {
		if row.coord.X > own.X {
			anyBiggerX = true
		}
		if row.coord.Y > own.Y {
			anyBiggerY = true
		}
	}
	var loc identity.Quadrant
	switch {
	case anyBiggerX && anyBiggerY:
		loc = identity.DownLeft
	case anyBiggerX:
		loc = identity.UpLeft
	case anyBiggerY:
		loc = identity.DownRight
	default:
		loc = identity.UpRight
	}
	return own, loc, nil
}

// chiralityStep maps (clockwise, axis-is-X, proximal-smaller) to the offset
// applied to the proximal coordinate and this unit's grid orientation.
var chiralityStep = map[[3]bool]struct {
	dx, dy int16
	loc    identity.Quadrant
}{
	{true, true, true}:    {0, 1, identity.DownLeft},
	{true, true, false}:   {0, -1, identity.UpRight},
	{true, false, true}:   {-1, 0, identity.DownRight},
	{true, false, false}:  {1, 0, identity.UpLeft},
	{false, true, true}:   {0, -1, identity.UpLeft},
	{false, true, false}:  {0, 1, identity.DownRight},
	{false, false, true}:  {1, 0, identity.DownLeft},
	{false, false, false}: {-1, 0, identity.UpRight},
}

// coordinateFromSeam handles the case of two confirmed units across the
// seam: the proximal one heard directly, the distal one relayed by an
// in-net neighbor. Their quadrant rotation fixes the chirality of this
// unit's view, which together with the axis and direction of their
// adjacency pins this unit's cell and corner.
func coordinateFromSeam(evidence []confirmedTuple, word identity.Word) (identity.Coordinate, identity.Quadrant, error) {
	a, b, ok := findAdjacentPair(evidence)
	if !ok {
		return identity.Coordinate{}, 0, fmt.Errorf(
			"no axis-adjacent pair in %d rows: %w", len(evidence), ErrBootstrapInconsistent)
	}

	aRelayed := identity.SameLocalNet(word, identity.Word(a.reporter))
	bRelayed := identity.SameLocalNet(word, identity.Word(b.reporter))
	if aRelayed == bRelayed {
		return identity.Coordinate{}, 0, fmt.Errorf(
			"cannot tell proximal from distal neighbor: %w", ErrBootstrapInconsistent)
	}
	proximal, distal := a, b
	if aRelayed {
		proximal, distal = b, a
	}

	lp := identity.Word(proximal.subject).Quadrant()
	ld := identity.Word(distal.subject).Quadrant()
	cp, cd := proximal.coord, distal.coord

	var clockwise bool
	switch ld {
	case lp.RotateClockwise():
		clockwise = true
	case lp.RotateCounterClockwise():
		clockwise = false
	default:
		return identity.Coordinate{}, 0, fmt.Errorf(
			"quadrants %s and %s are not rotation-adjacent: %w", lp, ld, ErrBootstrapInconsistent)
	}

	axisX := cp.X != cd.X
	smaller := cp.X < cd.X || cp.Y < cd.Y

	step := chiralityStep[[3]bool{clockwise, axisX, smaller}]
	return cp.Add(step.dx, step.dy), step.loc, nil
}
