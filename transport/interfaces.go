// Package transport provides out-of-process links for forwarding drones:
// an MQTT-backed neighbor link between drones, and a serial ground-control
// link carrying commands and telemetry between the simulator harness and a
// drone running on separate hardware.
package transport

import (
	"context"

	"github.com/opendrones/drone-core/core/packet"
)

// Transport is the base lifecycle interface shared by the MQTT and serial
// implementations.
type Transport interface {
	// Start begins the transport's connection and message handling. The
	// provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
}

// PacketHandler is called when a packet arrives over a neighbor link.
type PacketHandler func(p *packet.Packet, source PacketSource)

// StateHandler is called when a transport's connection state changes.
type StateHandler func(t Transport, event Event)

// Event represents a transport state change.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
	EventReconnecting
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// PacketSource indicates which link a packet arrived over.
type PacketSource int

const (
	PacketSourceMQTT PacketSource = iota
	PacketSourceSerial
	PacketSourceLocal
)

func (s PacketSource) String() string {
	switch s {
	case PacketSourceMQTT:
		return "mqtt"
	case PacketSourceSerial:
		return "serial"
	case PacketSourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
