package serial

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

const (
	wsRecvBuffer  = 256
	wsSendTimeout = 5 * time.Second
)

// WSLink carries 8-byte frames over a WebSocket connection to a medium hub.
// Each frame travels as one binary message, so framing survives the
// transport and a partial frame can only appear as a wrong-sized message,
// which is dropped.
type WSLink struct {
	conn   *websocket.Conn
	log    *slog.Logger
	in     chan Frame
	done   chan struct{}
	cancel context.CancelFunc
}

// DialWS connects to the medium hub at url and starts the receive loop.
func DialWS(ctx context.Context, url string, logger *slog.Logger) (*WSLink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing medium hub %s: %w", url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	l := &WSLink{
		conn:   conn,
		log:    logger.With("component", "wslink"),
		in:     make(chan Frame, wsRecvBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go l.readLoop(readCtx)
	return l, nil
}

func (l *WSLink) readLoop(ctx context.Context) {
	defer close(l.done)
	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			l.log.Debug("medium connection closed", "error", err)
			return
		}
		if typ != websocket.MessageBinary || len(data) != FrameSize {
			l.log.Warn("dropping malformed frame", "type", typ, "len", len(data))
			continue
		}
		var f Frame
		copy(f[:], data)
		select {
		case l.in <- f:
		default:
			// Receive buffer full; the frame is lost on the medium.
		}
	}
}

func (l *WSLink) Send(f Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsSendTimeout)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageBinary, f[:]); err != nil {
		return fmt.Errorf("writing frame to medium: %w: %w", ErrHardware, err)
	}
	return nil
}

func (l *WSLink) Receive() (Frame, bool, error) {
	select {
	case f := <-l.in:
		return f, true, nil
	case <-l.done:
		return Frame{}, false, fmt.Errorf("medium connection closed: %w", ErrHardware)
	default:
		return Frame{}, false, nil
	}
}

func (l *WSLink) FlushRead() error {
	for {
		select {
		case <-l.in:
		default:
			return nil
		}
	}
}

func (l *WSLink) FlushWrite() error { return nil }

func (l *WSLink) FlushAll() error {
	if err := l.FlushRead(); err != nil {
		return err
	}
	return l.FlushWrite()
}

// Close tears down the connection.
func (l *WSLink) Close() error {
	l.cancel()
	return l.conn.Close(websocket.StatusNormalClosure, "")
}
