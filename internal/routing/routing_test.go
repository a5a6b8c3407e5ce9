package routing

import (
	"errors"
	"testing"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
)

func TestIP_gridBounds(t *testing.T) {
	t.Parallel()

	for y := int16(0); y < GridHeight; y++ {
		for x := int16(0); x < GridWidth; x++ {
			ip, err := IP(identity.Coordinate{X: x, Y: y})
			if err != nil {
				t.Fatalf("IP(%d, %d) error: %v", x, y, err)
			}
			if want := uint8(x) + GridWidth*uint8(y); ip != want {
				t.Errorf("IP(%d, %d) = %d, want %d", x, y, ip, want)
			}
		}
	}

	outside := []identity.Coordinate{
		{X: -1, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: -1}, {X: 0, Y: 4}, {X: 7, Y: 7},
	}
	for _, c := range outside {
		if _, err := IP(c); !errors.Is(err, ErrGridOutOfBounds) {
			t.Errorf("IP(%v): error %v, want ErrGridOutOfBounds", c, err)
		}
	}
}

func TestNextHop_reachesDestination(t *testing.T) {
	t.Parallel()

	// From every cell to every cell: the walk takes exactly the Manhattan
	// distance and every visited cell is on the dimension-order route.
	cells := make([]identity.Coordinate, 0, 16)
	for y := int16(0); y < GridHeight; y++ {
		for x := int16(0); x < GridWidth; x++ {
			cells = append(cells, identity.Coordinate{X: x, Y: y})
		}
	}
	for _, src := range cells {
		for _, dst := range cells {
			pos := src
			steps := 0
			for pos != dst {
				next, ok := NextHop(pos, dst)
				if !ok {
					t.Fatalf("NextHop(%v, %v) stalled at %v", src, dst, pos)
				}
				if identity.L1Distance(pos, next) != 1 {
					t.Fatalf("NextHop(%v, %v) jumped from %v to %v", src, dst, pos, next)
				}
				if !IsInRoute(next, src, dst) {
					t.Errorf("IsInRoute(%v, %v, %v) = false for a cell on the walk", next, src, dst)
				}
				pos = next
				steps++
			}
			if want := identity.L1Distance(src, dst); steps != want {
				t.Errorf("route %v->%v took %d steps, want %d", src, dst, steps, want)
			}
		}
	}

	if _, ok := NextHop(identity.Coordinate{X: 2, Y: 2}, identity.Coordinate{X: 2, Y: 2}); ok {
		t.Error("NextHop at the destination must report no hop")
	}
}

func TestIsInRoute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		this, src, dst identity.Coordinate
		want           bool
	}{
		// X sweep on the source row, then Y sweep on the destination column.
		{identity.Coordinate{X: 1, Y: 1}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, true},
		{identity.Coordinate{X: 3, Y: 1}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, true},
		{identity.Coordinate{X: 3, Y: 2}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, true},
		{identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, true},
		// Off the path: wrong row during the X sweep, wrong column after.
		{identity.Coordinate{X: 1, Y: 2}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, false},
		{identity.Coordinate{X: 0, Y: 2}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, false},
		// Beyond the endpoints.
		{identity.Coordinate{X: 3, Y: 3}, identity.Coordinate{X: 0, Y: 1}, identity.Coordinate{X: 3, Y: 2}, false},
	}
	for _, tc := range cases {
		if got := IsInRoute(tc.this, tc.src, tc.dst); got != tc.want {
			t.Errorf("IsInRoute(%v, %v, %v) = %t, want %t", tc.this, tc.src, tc.dst, got, tc.want)
		}
	}
}

func TestTable_joinAndLookup(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	c := identity.Coordinate{X: 2, Y: 1}

	ip, err := tbl.Join(0x0123, c)
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if ip != 6 {
		t.Errorf("Join() ip = %d, want 6", ip)
	}

	if got, ok := tbl.Coordinate(0x0123); !ok || got != c {
		t.Errorf("Coordinate(0x0123) = %v, %t", got, ok)
	}
	if mac, ok := tbl.MACAt(c); !ok || mac != 0x0123 {
		t.Errorf("MACAt(%v) = %#04x, %t", c, mac, ok)
	}

	if _, err := tbl.Join(0x0456, identity.Coordinate{X: -1, Y: 2}); !errors.Is(err, ErrGridOutOfBounds) {
		t.Errorf("Join() outside grid: error %v, want ErrGridOutOfBounds", err)
	}
	if _, ok := tbl.Coordinate(0x0456); ok {
		t.Error("failed join must record nothing")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}
