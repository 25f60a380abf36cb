package drone

import (
	"log/slog"
	"math/rand/v2"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/telemetry"
)

// Config configures a Drone. Neighbors seeds the initial neighbor map,
// even though AddSender is the normal way neighbors are populated.
type Config struct {
	// ID is this node's identity.
	ID core.NodeId

	// PDR is the initial packet-drop probability, in [0, 1].
	PDR float64

	// Neighbors seeds the initial neighbor map. May be nil.
	Neighbors map[core.NodeId]SenderHandle

	// Inbound delivers packets to this drone. Sole reader is the drone.
	Inbound <-chan *packet.Packet

	// Commands delivers controller commands to this drone.
	Commands <-chan Command

	// Events is the write-only channel telemetry is sent to.
	Events chan<- telemetry.Event

	// Logger receives routing and command-handling diagnostics. Falls
	// back to slog.Default() if nil.
	Logger *slog.Logger

	// RandFloat64 draws the uniform sample used by the probabilistic
	// drop policy. Defaults to rand.Float64 (math/rand/v2). Overridable
	// for deterministic tests.
	RandFloat64 func() float64
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RandFloat64 == nil {
		c.RandFloat64 = rand.Float64
	}
	return c
}
