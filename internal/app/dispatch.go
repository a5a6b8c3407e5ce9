// Package app runs the steady-state loop of a confirmed unit: it pulls
// packets from the node, answers the system headers that keep the fabric's
// bootstrap alive, and hands application traffic to registered handlers.
package app

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kons-9/shapechangeable-computer/internal/node"
	"github.com/kons-9/shapechangeable-computer/pkg/wire"
)

// Contention jitter applied between loop iterations.
const (
	idleDelayMin = 10 * time.Millisecond
	idleDelayMax = 100 * time.Millisecond
)

// Handler consumes one packet addressed to this unit.
type Handler func(n *node.Node, p *wire.Packet) error

// Dispatcher maps packet headers to handlers and drives the receive loop.
type Dispatcher struct {
	node     *node.Node
	handlers map[wire.Header]Handler
	log      *slog.Logger

	rng   *rand.Rand
	sleep func(time.Duration)
}

// New creates a dispatcher for the given node.
func New(n *node.Node, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		node:     n,
		handlers: make(map[wire.Header]Handler),
		log:      logger.With("component", "dispatch"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    time.Sleep,
	}
}

// Handle registers a handler for a header, replacing any previous one.
func (d *Dispatcher) Handle(h wire.Header, fn Handler) {
	d.handlers[h] = fn
}

// Run drives the loop until ctx is cancelled. System headers are answered
// before handler lookup, so a confirmed unit keeps serving the bootstrap of
// late-joining neighbors.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, ok, err := d.node.GetPacket()
		if err != nil {
			d.log.Warn("receive failed", "error", err)
			d.idle()
			continue
		}
		if !ok {
			d.idle()
			continue
		}

		if err := d.dispatch(p); err != nil {
			d.log.Warn("handling packet failed", "header", p.Header, "error", err)
		}
		d.idle()
	}
}

func (d *Dispatcher) dispatch(p *wire.Packet) error {
	switch p.Header {
	case wire.CheckConnection:
		return d.node.Send(wire.NewCheckConnection(d.node.MAC()))
	case wire.RequestConfirmedCoord:
		reply, err := d.node.ConfirmReply()
		if err != nil {
			return err
		}
		return d.node.Send(reply)
	}

	if fn, ok := d.handlers[p.Header]; ok {
		return fn(d.node, p)
	}
	d.log.Debug("no handler for packet", "header", p.Header, "global_src", p.GlobalSrc)
	return nil
}

// idle applies the jittered delay that keeps units from hammering the
// shared medium in lockstep.
func (d *Dispatcher) idle() {
	span := int64(idleDelayMax - idleDelayMin)
	d.sleep(idleDelayMin + time.Duration(d.rng.Int63n(span)))
}
