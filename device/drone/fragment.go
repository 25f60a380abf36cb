package drone

import (
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/telemetry"
)

// handleFragment handles a data fragment. A fragment that fails the
// validator chain is nacked with the matching failure kind. A fragment
// that passes is subject to the probabilistic drop policy before being
// forwarded; Fragment is the only packet kind eligible for drop.
func (d *Drone) handleFragment(pkt *packet.Packet, frag packet.Fragment) {
	kind, node, ok := d.validate(pkt.RoutingHeader)
	if !ok {
		d.sendNack(pkt, frag.FragmentIndex, kind, node)
		return
	}

	if d.rand() < d.pdr {
		d.emit(telemetry.Dropped(pkt))
		d.sendNack(pkt, frag.FragmentIndex, packet.NackDropped, 0)
		return
	}

	d.forwardPacket(pkt)
}
