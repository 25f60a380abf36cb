package drone

import (
	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
)

// validate runs the three-check validator chain against a source-routed
// packet's routing header. It returns ok=true when every check passes.
// On failure it returns the NackKind and, where relevant, the node id
// that caused the failure (this drone's own id for UnexpectedRecipient,
// the unreachable next hop for ErrorInRouting).
//
// hop_index is guaranteed to be a valid index into hops whenever a
// packet reaches the validator, so no bounds check is performed here.
func (d *Drone) validate(rh packet.RoutingHeader) (kind packet.NackKind, node core.NodeId, ok bool) {
	if rh.Hops[rh.HopIndex] != d.id {
		return packet.NackUnexpectedRecipient, d.id, false
	}
	if rh.HopIndex >= len(rh.Hops)-1 {
		return packet.NackDestinationIsDrone, 0, false
	}
	next := rh.Hops[rh.HopIndex+1]
	if _, known := d.neighbors[next]; !known {
		return packet.NackErrorInRouting, next, false
	}
	return 0, 0, true
}
