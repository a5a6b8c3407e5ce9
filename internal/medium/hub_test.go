package medium

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/serial"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// waitFrame polls a link until a frame arrives or the deadline passes.
func waitFrame(t *testing.T, l serial.Link, deadline time.Duration) (serial.Frame, bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		f, ok, err := l.Receive()
		if err != nil {
			t.Fatalf("Receive() error: %v", err)
		}
		if ok {
			return f, true
		}
		time.Sleep(time.Millisecond)
	}
	return serial.Frame{}, false
}

func TestHub_relaysToOthers(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := serial.DialWS(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("DialWS() error: %v", err)
	}
	defer a.Close()
	b, err := serial.DialWS(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("DialWS() error: %v", err)
	}
	defer b.Close()

	f := serial.Frame{0x40, 1, 2, 3, 4, 5, 6, 7}
	if err := a.Send(f); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	got, ok := waitFrame(t, b, 2*time.Second)
	if !ok {
		t.Fatal("frame never relayed to the other unit")
	}
	if got != f {
		t.Errorf("relayed frame = % x, want % x", got, f)
	}

	// The shared medium does not echo a frame back to its sender.
	if _, ok := waitFrame(t, a, 50*time.Millisecond); ok {
		t.Error("sender heard its own frame back")
	}
}

func TestHub_threeWayBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	links := make([]*serial.WSLink, 3)
	for i := range links {
		l, err := serial.DialWS(ctx, wsURL(srv), nil)
		if err != nil {
			t.Fatalf("DialWS() error: %v", err)
		}
		defer l.Close()
		links[i] = l
	}

	f := serial.Frame{0x80, 9, 9, 9, 9, 9, 9, 9}
	if err := links[0].Send(f); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	for i := 1; i < 3; i++ {
		got, ok := waitFrame(t, links[i], 2*time.Second)
		if !ok {
			t.Fatalf("unit %d never heard the frame", i)
		}
		if got != f {
			t.Errorf("unit %d: frame = % x, want % x", i, got, f)
		}
	}
}
