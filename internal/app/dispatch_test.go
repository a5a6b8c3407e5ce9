package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/identity"
	"github.com/kons-9/shapechangeable-computer/internal/link"
	"github.com/kons-9/shapechangeable-computer/internal/node"
	"github.com/kons-9/shapechangeable-computer/internal/serial"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// waitForHeader polls the tester's transceiver until a packet with the given
// header arrives.
func waitForHeader(t *testing.T, tx *link.Transceiver, myMAC uint16, h wire.Header, deadline time.Duration) *wire.Packet {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		p, ok, err := tx.RecvPacket(myMAC)
		if err != nil {
			_ = tx.FlushRead()
			continue
		}
		if ok && p.Header == h {
			return p
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s packet within %v", h, deadline)
	return nil
}

func TestDispatcher_servesBootstrapRequests(t *testing.T) {
	t.Parallel()

	bus := serial.NewBus()

	// A root unit is confirmed from power-up and must keep serving
	// coordinate requests.
	word := identity.Compose(true, identity.UpRight, 0)
	n, err := node.New(context.Background(), bus.Endpoint(), word, testLogger(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(n, testLogger(t))
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	tester := link.New(bus.Endpoint(), testLogger(t))
	testerMAC := identity.Compose(false, identity.UpLeft, 30).MAC()

	if err := tester.SendPacket(wire.NewCoordRequest(testerMAC)); err != nil {
		t.Fatalf("sending request: %v", err)
	}

	reply := waitForHeader(t, tester, testerMAC, wire.ConfirmCoordinate, 5*time.Second)
	confirmed, recs, err := reply.ConfirmCoordinateRecords()
	if err != nil {
		t.Fatalf("parsing reply: %v", err)
	}
	if !confirmed {
		t.Error("a confirmed unit must reply with the confirmed flag")
	}
	if len(recs) != 1 || recs[0].MAC != word.MAC() {
		t.Fatalf("reply records = %+v, want the unit's own record", recs)
	}
	if recs[0].X != 1 || recs[0].Y != 1 {
		t.Errorf("reported coordinate = (%d, %d), want (1, 1)", recs[0].X, recs[0].Y)
	}

	cancel()
	if err := <-runDone; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() returned %v, want context.Canceled", err)
	}
}

func TestDispatcher_answersConnectionProbe(t *testing.T) {
	t.Parallel()

	bus := serial.NewBus()
	word := identity.Compose(true, identity.DownLeft, 0)
	n, err := node.New(context.Background(), bus.Endpoint(), word, testLogger(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(n, testLogger(t))
	go func() { _ = d.Run(ctx) }()

	tester := link.New(bus.Endpoint(), testLogger(t))
	testerMAC := identity.Compose(false, identity.UpLeft, 30).MAC()

	if err := tester.SendPacket(wire.NewCheckConnection(testerMAC)); err != nil {
		t.Fatalf("sending probe: %v", err)
	}

	reply := waitForHeader(t, tester, testerMAC, wire.CheckConnection, 5*time.Second)
	if reply.GlobalSrc != word.MAC() {
		t.Errorf("probe reply source = %#04x, want %#04x", reply.GlobalSrc, word.MAC())
	}
}

func TestDispatcher_customHandler(t *testing.T) {
	t.Parallel()

	bus := serial.NewBus()
	word := identity.Compose(true, identity.UpLeft, 0)
	n, err := node.New(context.Background(), bus.Endpoint(), word, testLogger(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	d := New(n, testLogger(t))
	d.Handle(wire.ConfirmCoordinate, func(n *node.Node, p *wire.Packet) error {
		select {
		case received <- p.Payload:
		default:
		}
		return nil
	})
	go func() { _ = d.Run(ctx) }()

	tester := link.New(bus.Endpoint(), testLogger(t))
	sender := identity.Compose(false, identity.UpRight, 21)
	p, err := wire.NewConfirmCoordinate(sender.MAC(), true, []wire.CoordRecord{{MAC: sender.MAC(), X: 2, Y: 3}})
	if err != nil {
		t.Fatalf("NewConfirmCoordinate() error: %v", err)
	}
	if err := tester.SendPacket(p); err != nil {
		t.Fatalf("sending packet: %v", err)
	}

	select {
	case payload := <-received:
		if len(payload) != 7 {
			t.Errorf("handler payload length = %d, want 7", len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never invoked")
	}
}
