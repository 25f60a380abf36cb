package drone

import (
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/telemetry"
)

// handleForwardOnly handles Ack, Nack and FloodResponse packets. A
// validation failure on these kinds never produces a Nack (that would
// risk a Nack-about-a-Nack loop); instead it is escalated to the
// controller as a ControllerShortcut event.
func (d *Drone) handleForwardOnly(pkt *packet.Packet) {
	if _, _, ok := d.validate(pkt.RoutingHeader); !ok {
		d.emit(telemetry.Shortcut(pkt))
		return
	}
	d.forwardPacket(pkt)
}
