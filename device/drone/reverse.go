package drone

import (
	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
)

// sendNack builds a Nack from the truncated, reversed prefix of the
// incoming routing header and sends it to the first upstream hop.
//
// The truncation boundary is the prefix through and including the
// drone's own position, hops[0 .. hop_index] (inclusive), applied
// uniformly for every NackKind; see DESIGN.md for the reasoning behind
// this choice.
func (d *Drone) sendNack(pkt *packet.Packet, fragmentIndex uint64, kind packet.NackKind, node core.NodeId) {
	hops := reversedPrefix(pkt.RoutingHeader)
	if len(hops) < 2 {
		d.log.Warn("dropping nack: no upstream hop to reply to", "kind", kind)
		return
	}

	nackPkt := &packet.Packet{
		SessionID: pkt.SessionID,
		RoutingHeader: packet.RoutingHeader{
			HopIndex: 1,
			Hops:     hops,
		},
		Body: packet.Nack{
			FragmentIndex: fragmentIndex,
			NackKind:      kind,
			NodeID:        node,
		},
	}
	d.sendTo(hops[1], nackPkt)
}

// reversedPrefix returns hops[0..hop_index] (inclusive), reversed.
func reversedPrefix(rh packet.RoutingHeader) []core.NodeId {
	end := rh.HopIndex + 1
	if end > len(rh.Hops) {
		end = len(rh.Hops)
	}
	prefix := rh.Hops[:end]
	reversed := make([]core.NodeId, len(prefix))
	for i, h := range prefix {
		reversed[len(prefix)-1-i] = h
	}
	return reversed
}
