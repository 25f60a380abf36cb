// Package packet defines the transport unit forwarded between drones:
// the source-routed Packet envelope and its tagged-variant payloads
// (Fragment, Ack, Nack, FloodRequest, FloodResponse).
//
// This corresponds to the Packet/PacketType data model carried by every
// drone in the overlay network.
package packet

import "github.com/opendrones/drone-core/core"

// Kind identifies which variant a Packet's Body holds.
type Kind uint8

const (
	KindFragment Kind = iota
	KindAck
	KindNack
	KindFloodRequest
	KindFloodResponse
)

func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindFloodRequest:
		return "flood_request"
	case KindFloodResponse:
		return "flood_response"
	default:
		return "unknown"
	}
}

// RoutingHeader carries the explicit source route for every packet kind
// except FloodRequest. HopIndex points at the node currently expected to process
// the packet; Hops[0] is the origin, Hops[len-1] is the ultimate
// destination.
type RoutingHeader struct {
	HopIndex int
	Hops     []core.NodeId
}

// Body is implemented by every packet payload variant. It is a closed,
// sealed interface (the unexported method prevents external types from
// satisfying it), matching the Go idiom for internally-tagged unions.
type Body interface {
	Kind() Kind
	sealed()
}

// Fragment is a data fragment. It is the only variant subject to
// probabilistic drop.
type Fragment struct {
	FragmentIndex uint64
	Data          []byte
}

func (Fragment) Kind() Kind { return KindFragment }
func (Fragment) sealed()    {}

// Ack is a positive acknowledgement for a fragment.
type Ack struct {
	FragmentIndex uint64
}

func (Ack) Kind() Kind { return KindAck }
func (Ack) sealed()    {}

// NackKind enumerates the reasons a Nack was generated.
type NackKind uint8

const (
	// NackDropped marks a fragment discarded by the probabilistic drop policy.
	NackDropped NackKind = iota
	// NackUnexpectedRecipient marks a packet whose current hop didn't match
	// the receiving drone's id. Carries the receiving drone's id.
	NackUnexpectedRecipient
	// NackDestinationIsDrone marks a packet whose hop_index pointed at the
	// last hop, naming a drone as the final destination.
	NackDestinationIsDrone
	// NackErrorInRouting marks a packet whose next hop is not a known
	// neighbor. Carries the unreachable next hop's id.
	NackErrorInRouting
)

func (k NackKind) String() string {
	switch k {
	case NackDropped:
		return "dropped"
	case NackUnexpectedRecipient:
		return "unexpected_recipient"
	case NackDestinationIsDrone:
		return "destination_is_drone"
	case NackErrorInRouting:
		return "error_in_routing"
	default:
		return "unknown"
	}
}

// Nack is a negative acknowledgement. NodeID is only meaningful for
// NackUnexpectedRecipient and NackErrorInRouting.
type Nack struct {
	FragmentIndex uint64
	NackKind      NackKind
	NodeID        core.NodeId
}

func (Nack) Kind() Kind { return KindNack }
func (Nack) sealed()    {}

// FloodRequest is a topology-discovery broadcast. Its RoutingHeader is
// ignored during traversal — PathTrace is the authoritative routing
// state while the request is in flight.
type FloodRequest struct {
	FloodID     uint64
	InitiatorID core.NodeId
	PathTrace   []core.TraceEntry
}

func (FloodRequest) Kind() Kind { return KindFloodRequest }
func (FloodRequest) sealed()    {}

// FloodResponse carries a completed flood's trace back to its initiator,
// routed source-route style via the enclosing Packet's RoutingHeader.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []core.TraceEntry
}

func (FloodResponse) Kind() Kind { return KindFloodResponse }
func (FloodResponse) sealed()    {}

// Packet is the unit of transport between drones.
type Packet struct {
	SessionID     uint64
	RoutingHeader RoutingHeader
	Body          Body
}
