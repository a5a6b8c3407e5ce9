package serial

import "sync"

// portBuffer bounds how many frames a slow endpoint may lag behind; beyond
// it frames are dropped, which is what the physical bus does too.
const portBuffer = 256

// Bus is an in-memory shared medium connecting several units. A frame sent
// on one Port is delivered to every other Port. It models the electrically
// shared local link in multi-unit tests.
type Bus struct {
	mu    sync.Mutex
	ports []*Port
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Endpoint attaches a new unit to the bus and returns its Link.
func (b *Bus) Endpoint() *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Port{bus: b, in: make(chan Frame, portBuffer)}
	b.ports = append(b.ports, p)
	return p
}

func (b *Bus) broadcast(from *Port, f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.ports {
		if p == from {
			continue
		}
		select {
		case p.in <- f:
		default:
			// Receiver lagging; the frame is lost on the medium.
		}
	}
}

// Port is one unit's attachment to a Bus.
type Port struct {
	bus *Bus
	in  chan Frame
}

func (p *Port) Send(f Frame) error {
	p.bus.broadcast(p, f)
	return nil
}

func (p *Port) Receive() (Frame, bool, error) {
	select {
	case f := <-p.in:
		return f, true, nil
	default:
		return Frame{}, false, nil
	}
}

func (p *Port) FlushRead() error {
	for {
		select {
		case <-p.in:
		default:
			return nil
		}
	}
}

func (p *Port) FlushWrite() error { return nil }

func (p *Port) FlushAll() error {
	if err := p.FlushRead(); err != nil {
		return err
	}
	return p.FlushWrite()
}
