// Package drone implements the per-node protocol engine of a forwarding
// drone: the packet-dispatch state machine, the source-routed packet
// validator, the flood-discovery logic, the probabilistic drop policy,
// and reverse-path construction for negative acknowledgements and flood
// responses.
package drone

import (
	"log/slog"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/dedupe"
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/telemetry"
)

// Drone is a single forwarding node. It is a sequential worker: all of
// its state (neighbors, pdr, seenFloods) is touched only from the
// goroutine running Run, so no internal locking is needed.
type Drone struct {
	id   core.NodeId
	pdr  float64
	rand func() float64
	log  *slog.Logger

	neighbors  map[core.NodeId]SenderHandle
	seenFloods *dedupe.FloodMemory

	inbound  <-chan *packet.Packet
	commands <-chan Command
	events   chan<- telemetry.Event
}

// New creates a Drone from cfg. The returned Drone does nothing until
// Run is called.
func New(cfg Config) *Drone {
	cfg = cfg.withDefaults()

	neighbors := make(map[core.NodeId]SenderHandle, len(cfg.Neighbors))
	for id, s := range cfg.Neighbors {
		if id == cfg.ID {
			continue
		}
		neighbors[id] = s
	}

	return &Drone{
		id:         cfg.ID,
		pdr:        clampPDR(cfg.PDR),
		rand:       cfg.RandFloat64,
		log:        cfg.Logger.WithGroup("drone"),
		neighbors:  neighbors,
		seenFloods: dedupe.New(),
		inbound:    cfg.Inbound,
		commands:   cfg.Commands,
		events:     cfg.Events,
	}
}

// ID returns this drone's node id.
func (d *Drone) ID() core.NodeId { return d.id }

// NeighborCount returns the number of registered neighbor links, the same
// count flood fan-out checks for its "exactly one neighbor" leaf case.
func (d *Drone) NeighborCount() int { return len(d.neighbors) }

// SeenFloodCount returns the number of distinct flood ids observed.
func (d *Drone) SeenFloodCount() int { return d.seenFloods.Len() }

// PDR returns the current packet-drop probability.
func (d *Drone) PDR() float64 { return d.pdr }

// Run drives the event loop: a biased select over commands and inbound
// packets, with commands taking priority whenever both are ready. Run
// returns once a Crash command has been processed and the crash-drain
// has completed. If both commands and inbound are closed without a
// Crash ever arriving, the loop blocks forever on two nil channels —
// the loop exits only on Crash.
func (d *Drone) Run() {
	commands := d.commands
	inbound := d.inbound

	for {
		// Non-blocking priority check: if a command is already ready,
		// service it before considering any packet, even one that was
		// also ready. This is the standard Go idiom for a biased select
		// (select has no native priority; checking the preferred channel
		// non-blockingly first approximates it for the common case where
		// both ends up ready in the same scheduling tick).
		select {
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if d.applyCommand(cmd) {
				d.drain(inbound)
				return
			}
			continue
		default:
		}

		select {
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if d.applyCommand(cmd) {
				d.drain(inbound)
				return
			}
		case pkt, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			d.handlePacket(pkt)
		}
	}
}

// drain processes any packets already queued on inbound without blocking
// for new arrivals, then returns once the queue is empty.
func (d *Drone) drain(inbound <-chan *packet.Packet) {
	if inbound == nil {
		return
	}
	for {
		select {
		case pkt, ok := <-inbound:
			if !ok {
				return
			}
			d.handlePacket(pkt)
		default:
			return
		}
	}
}

// handlePacket classifies an incoming packet and dispatches it to the
// fragment, flood, or forward-only path.
func (d *Drone) handlePacket(pkt *packet.Packet) {
	switch body := pkt.Body.(type) {
	case packet.FloodRequest:
		d.handleFlood(pkt, body)
	case packet.Fragment:
		d.handleFragment(pkt, body)
	default:
		d.handleForwardOnly(pkt)
	}
}

// emit sends a telemetry event to the controller, if an events channel
// was configured. A nil Events channel is valid (e.g. in tests that don't
// care about telemetry) and simply discards events.
func (d *Drone) emit(e telemetry.Event) {
	if d.events == nil {
		return
	}
	d.events <- e
}

// sendTo delivers pkt to neighbor id, emitting PacketSent on success and
// logging (without panicking) on any soft failure: an unknown neighbor
// or one whose channel has been closed.
func (d *Drone) sendTo(id core.NodeId, pkt *packet.Packet) {
	sender, ok := d.neighbors[id]
	if !ok {
		d.log.Warn("dropping packet: no link to neighbor", "neighbor", id)
		return
	}
	if err := sender.Send(pkt); err != nil {
		d.log.Warn("dropping packet: neighbor send failed", "neighbor", id, "error", err)
		return
	}
	d.emit(telemetry.Sent(pkt))
}

// forwardPacket increments hop_index and sends the packet to the next
// hop named by the (already-validated) routing header. It never mutates
// hops or session_id.
func (d *Drone) forwardPacket(pkt *packet.Packet) {
	rh := &pkt.RoutingHeader
	next := rh.Hops[rh.HopIndex+1]
	rh.HopIndex++
	d.sendTo(next, pkt)
}

func clampPDR(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
