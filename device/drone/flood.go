package drone

import (
	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
)

// handleFlood routes a FloodRequest by its embedded path_trace, not by
// routing_header, and never runs it through the three-check validator
// chain — seen_floods membership is the only gate.
func (d *Drone) handleFlood(pkt *packet.Packet, req packet.FloodRequest) {
	prev := previousHop(req)
	trace := appendTrace(req.PathTrace, d.id)

	if d.seenFloods.Seen(req.FloodID) {
		d.sendFloodResponse(pkt.SessionID, req.FloodID, req.InitiatorID, trace, prev)
		return
	}
	d.seenFloods.Mark(req.FloodID)

	if len(d.neighbors) == 1 {
		// A leaf cannot forward further without looping straight back to
		// its one neighbor, so it terminates the flood exactly like the
		// already-seen case.
		d.sendFloodResponse(pkt.SessionID, req.FloodID, req.InitiatorID, trace, prev)
		return
	}

	for n := range d.neighbors {
		if n == prev || n == req.InitiatorID {
			continue
		}
		fwd := &packet.Packet{
			SessionID:     pkt.SessionID,
			RoutingHeader: packet.RoutingHeader{HopIndex: 1},
			Body: packet.FloodRequest{
				FloodID:     req.FloodID,
				InitiatorID: req.InitiatorID,
				PathTrace:   cloneTrace(trace),
			},
		}
		d.sendTo(n, fwd)
	}
}

// sendFloodResponse builds and sends a FloodResponse whose hops are the
// reverse of trace's node ids, with the initiator appended if the
// reversal doesn't already end there.
func (d *Drone) sendFloodResponse(sessionID, floodID uint64, initiator core.NodeId, trace []core.TraceEntry, firstHop core.NodeId) {
	hops := make([]core.NodeId, len(trace))
	for i, e := range trace {
		hops[len(trace)-1-i] = e.Node
	}
	if len(hops) == 0 || hops[len(hops)-1] != initiator {
		hops = append(hops, initiator)
	}

	resp := &packet.Packet{
		SessionID: sessionID,
		RoutingHeader: packet.RoutingHeader{
			HopIndex: 1,
			Hops:     hops,
		},
		Body: packet.FloodResponse{
			FloodID:   floodID,
			PathTrace: trace,
		},
	}
	d.sendTo(firstHop, resp)
}

// previousHop reconstructs the node that forwarded this FloodRequest to
// us: the last entry of the incoming path_trace, computed before this
// drone appends its own entry. When the trace holds only the initiator's
// entry, that is itself the previous hop.
func previousHop(req packet.FloodRequest) core.NodeId {
	if len(req.PathTrace) == 0 {
		return req.InitiatorID
	}
	return req.PathTrace[len(req.PathTrace)-1].Node
}

func appendTrace(trace []core.TraceEntry, id core.NodeId) []core.TraceEntry {
	out := make([]core.TraceEntry, len(trace)+1)
	copy(out, trace)
	out[len(trace)] = core.TraceEntry{Node: id, Kind: core.NodeKindDrone}
	return out
}

func cloneTrace(trace []core.TraceEntry) []core.TraceEntry {
	out := make([]core.TraceEntry, len(trace))
	copy(out, trace)
	return out
}
