// Package routing implements dimension-order forwarding on the 4×4 global
// grid: packets travel along X until the column matches, then along Y. It
// also owns the MAC↔coordinate table a unit builds as the fabric boots and
// the linear IP numbering of grid cells.
package routing

import (
	"errors"
	"fmt"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
)

// Grid dimensions of the global fabric.
const (
	GridWidth  = 4
	GridHeight = 4
)

// ErrGridOutOfBounds reports a coordinate outside the 4×4 grid.
var ErrGridOutOfBounds = errors.New("coordinate outside the 4x4 grid")

// IP is the linear index of a grid cell: x + 4·y.
func IP(c identity.Coordinate) (uint8, error) {
	if c.X < 0 || c.X >= GridWidth || c.Y < 0 || c.Y >= GridHeight {
		return 0, fmt.Errorf("assigning ip for %s: %w", c, ErrGridOutOfBounds)
	}
	return uint8(c.X) + GridWidth*uint8(c.Y), nil
}

// NextHop is the neighboring coordinate one dimension-order step closer to
// dst. ok is false when this already equals dst.
func NextHop(this, dst identity.Coordinate) (identity.Coordinate, bool) {
	switch {
	case this.X < dst.X:
		return this.Add(1, 0), true
	case this.X > dst.X:
		return this.Add(-1, 0), true
	case this.Y < dst.Y:
		return this.Add(0, 1), true
	case this.Y > dst.Y:
		return this.Add(0, -1), true
	}
	return this, false
}

// IsInRoute reports whether this lies on the dimension-order path from src
// to dst: on src's row within the X sweep, or on dst's column within the Y
// sweep.
func IsInRoute(this, src, dst identity.Coordinate) bool {
	if this.Y == src.Y && between(this.X, src.X, dst.X) {
		return true
	}
	return this.X == dst.X && between(this.Y, src.Y, dst.Y)
}

func between(v, a, b int16) bool {
	if a > b {
		a, b = b, a
	}
	return a <= v && v <= b
}

// Table maps confirmed units to their grid coordinates in both directions.
// It grows as the unit hears coordinate confirmations and is consulted on
// every forwarding decision.
type Table struct {
	byMAC   map[uint16]identity.Coordinate
	byCoord map[identity.Coordinate]uint16
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byMAC:   make(map[uint16]identity.Coordinate),
		byCoord: make(map[identity.Coordinate]uint16),
	}
}

// Join records a unit's coordinate and returns its assigned IP. Joining
// outside the grid fails with ErrGridOutOfBounds and records nothing.
func (t *Table) Join(mac uint16, c identity.Coordinate) (uint8, error) {
	ip, err := IP(c)
	if err != nil {
		return 0, err
	}
	t.byMAC[mac] = c
	t.byCoord[c] = mac
	return ip, nil
}

// Coordinate looks up a unit's recorded coordinate.
func (t *Table) Coordinate(mac uint16) (identity.Coordinate, bool) {
	c, ok := t.byMAC[mac]
	return c, ok
}

// MACAt looks up the unit recorded at a coordinate.
func (t *Table) MACAt(c identity.Coordinate) (uint16, bool) {
	mac, ok := t.byCoord[c]
	return mac, ok
}

// Len is the number of recorded units.
func (t *Table) Len() int {
	return len(t.byMAC)
}
