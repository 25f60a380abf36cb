package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opendrones/drone-core/core"
)

// Topology describes a mesh of drones and the scripted events to inject
// once the simulation starts. It is the YAML input format for the `run`
// subcommand.
type Topology struct {
	MeshID   string        `yaml:"mesh_id"`
	Nodes    []NodeSpec    `yaml:"nodes"`
	Links    [][2]uint8    `yaml:"links"`
	Inject   []InjectSpec  `yaml:"inject"`
	Commands []CommandSpec `yaml:"commands"`

	// MetricsAddr, if set, serves Prometheus metrics at this address
	// (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`

	// RedisAddr, if set, publishes every telemetry event as a JSON message
	// on the "drone-events" channel of the Redis instance at this address.
	RedisAddr string `yaml:"redis_addr"`
}

// NodeSpec configures one simulated drone.
type NodeSpec struct {
	ID  uint8   `yaml:"id"`
	PDR float64 `yaml:"pdr"`
}

// InjectSpec schedules a flood request to be injected at one node, acting
// as the network's initiator host.
type InjectSpec struct {
	AtNode uint8 `yaml:"at_node"`
}

// CommandAction names which drone.Command a CommandSpec builds.
type CommandAction string

const (
	ActionAddSender    CommandAction = "add_sender"
	ActionRemoveSender CommandAction = "remove_sender"
	ActionSetPDR       CommandAction = "set_pdr"
	ActionCrash        CommandAction = "crash"
)

// CommandSpec schedules a single command to be delivered to one node's
// command channel a fixed number of seconds after the simulation starts.
// Target is the neighbor id for add_sender/remove_sender; Rate is the new
// drop rate for set_pdr. Both are ignored by the other actions.
type CommandSpec struct {
	AtSeconds float64       `yaml:"at_seconds"`
	Node      uint8         `yaml:"node"`
	Action    CommandAction `yaml:"action"`
	Target    uint8         `yaml:"target,omitempty"`
	Rate      float64       `yaml:"rate,omitempty"`
}

// LoadTopology reads and parses a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}

	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}

	if err := top.validate(); err != nil {
		return nil, err
	}
	return &top, nil
}

func (t *Topology) validate() error {
	if t.MeshID == "" {
		return fmt.Errorf("topology: mesh_id is required")
	}
	if len(t.Nodes) == 0 {
		return fmt.Errorf("topology: at least one node is required")
	}

	ids := make(map[core.NodeId]struct{}, len(t.Nodes))
	for _, n := range t.Nodes {
		id := core.NodeId(n.ID)
		if id == hostID {
			return fmt.Errorf("topology: node id %d is reserved for the flood-injecting host", n.ID)
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("topology: duplicate node id %d", n.ID)
		}
		ids[id] = struct{}{}
	}

	for _, link := range t.Links {
		for _, end := range link {
			if _, ok := ids[core.NodeId(end)]; !ok {
				return fmt.Errorf("topology: link references unknown node id %d", end)
			}
		}
	}

	for _, inj := range t.Inject {
		if _, ok := ids[core.NodeId(inj.AtNode)]; !ok {
			return fmt.Errorf("topology: inject references unknown node id %d", inj.AtNode)
		}
	}

	for _, cmd := range t.Commands {
		if _, ok := ids[core.NodeId(cmd.Node)]; !ok {
			return fmt.Errorf("topology: command references unknown node id %d", cmd.Node)
		}
		if cmd.AtSeconds < 0 {
			return fmt.Errorf("topology: command at_seconds must be non-negative, got %v", cmd.AtSeconds)
		}
		switch cmd.Action {
		case ActionAddSender, ActionRemoveSender:
			if _, ok := ids[core.NodeId(cmd.Target)]; !ok {
				return fmt.Errorf("topology: command references unknown target node id %d", cmd.Target)
			}
		case ActionSetPDR:
			if cmd.Rate < 0 || cmd.Rate > 1 {
				return fmt.Errorf("topology: command set_pdr rate must be within [0,1], got %v", cmd.Rate)
			}
		case ActionCrash:
		default:
			return fmt.Errorf("topology: command has unknown action %q", cmd.Action)
		}
	}

	return nil
}
