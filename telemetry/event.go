// Package telemetry defines the events a drone emits to its controller
// and the recorders that consume them.
//
// The drone engine (package drone) only ever produces Event values onto
// a plain `chan<- Event` — it never imports this package's recorders
// directly. Each event send is a suspension point the event loop
// controls, not a side-effecting call into metrics/logging code the
// engine doesn't own.
package telemetry

import "github.com/opendrones/drone-core/core/packet"

// Kind identifies which variant an Event holds.
type Kind uint8

const (
	// KindPacketSent fires after every successful outbound send, including
	// reverse-path sends and flood fanout.
	KindPacketSent Kind = iota
	// KindPacketDropped fires immediately before emitting a Dropped nack
	// for a fragment.
	KindPacketDropped
	// KindControllerShortcut fires when a non-fragment, non-flood packet
	// fails a validation check; the controller is expected to deliver it
	// out-of-band.
	KindControllerShortcut
)

func (k Kind) String() string {
	switch k {
	case KindPacketSent:
		return "packet_sent"
	case KindPacketDropped:
		return "packet_dropped"
	case KindControllerShortcut:
		return "controller_shortcut"
	default:
		return "unknown"
	}
}

// Event is a single telemetry record a drone sends to its controller.
type Event struct {
	Kind   Kind
	Packet *packet.Packet
}

// Sent builds a PacketSent event.
func Sent(p *packet.Packet) Event { return Event{Kind: KindPacketSent, Packet: p} }

// Dropped builds a PacketDropped event.
func Dropped(p *packet.Packet) Event { return Event{Kind: KindPacketDropped, Packet: p} }

// Shortcut builds a ControllerShortcut event.
func Shortcut(p *packet.Packet) Event { return Event{Kind: KindControllerShortcut, Packet: p} }
