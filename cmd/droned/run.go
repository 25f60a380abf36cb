package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/clock"
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/device/drone"
	"github.com/opendrones/drone-core/telemetry"
)

// hostID is the synthetic node id naming whatever issued a flood request
// from outside the simulated mesh (ground control, a client device). It is
// never assigned to a simulated drone.
const hostID core.NodeId = 0

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Run a topology for a fixed duration",
	Long:  `Loads a topology YAML file, wires the described drones together in-process, injects any scripted floods and timed commands, and runs until the duration elapses or it is interrupted.`,
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().Duration("duration", 5*time.Second, "how long to run the simulation before crashing every drone")
}

// simNode bundles one drone's engine with the raw channels wired to it.
type simNode struct {
	id       core.NodeId
	drone    *drone.Drone
	inbound  chan *packet.Packet
	commands chan drone.Command
	events   chan telemetry.Event
}

func runSimulation(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("--topology flag is required")
	}
	duration, _ := cmd.Flags().GetDuration("duration")

	top, err := LoadTopology(cfgFile)
	if err != nil {
		return err
	}

	console := newConsoleLogger(verbose)
	console.Info().Str("mesh_id", top.MeshID).Int("nodes", len(top.Nodes)).Msg("topology loaded")

	nodes := buildNodes(top)

	var metricsServer *http.Server
	recorders := map[core.NodeId]*telemetry.PromRecorder{}
	if top.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		for id := range nodes {
			recorders[id] = telemetry.NewPromRecorder(registry, id.String())
		}
		metricsServer = telemetry.ServeMetrics(top.MetricsAddr, registry)
		console.Info().Str("addr", top.MetricsAddr).Msg("serving prometheus metrics")
	}

	var redisClient *redis.Client
	if top.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: top.RedisAddr})
		console.Info().Str("addr", top.RedisAddr).Msg("publishing telemetry to redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var droneWG, tailWG sync.WaitGroup
	for _, n := range nodes {
		droneWG.Add(1)
		go func(n *simNode) {
			defer droneWG.Done()
			n.drone.Run()
		}(n)

		tailWG.Add(1)
		go func(n *simNode) {
			defer tailWG.Done()
			tailEvents(ctx, console, n, recorders[n.id], redisClient)
		}(n)
	}

	injectFloods(top, nodes, console)
	scriptWG := scheduleCommands(ctx, top, nodes, console)

	select {
	case <-ctx.Done():
		console.Warn().Msg("interrupted, crashing drones early")
	case <-time.After(duration):
	}

	for _, n := range nodes {
		n.commands <- drone.CrashCommand()
	}
	droneWG.Wait()

	// Every drone has stopped producing events; stop the tailers and any
	// not-yet-fired scripted commands too.
	stop()
	scriptWG.Wait()
	tailWG.Wait()

	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	console.Info().Msg("simulation complete")
	return nil
}

func buildNodes(top *Topology) map[core.NodeId]*simNode {
	nodes := make(map[core.NodeId]*simNode, len(top.Nodes))
	neighborMaps := make(map[core.NodeId]map[core.NodeId]drone.SenderHandle, len(top.Nodes))

	for _, n := range top.Nodes {
		id := core.NodeId(n.ID)
		nodes[id] = &simNode{
			id:       id,
			inbound:  make(chan *packet.Packet, 64),
			commands: make(chan drone.Command, 8),
			events:   make(chan telemetry.Event, 64),
		}
		neighborMaps[id] = make(map[core.NodeId]drone.SenderHandle)
	}

	for _, link := range top.Links {
		a, b := core.NodeId(link[0]), core.NodeId(link[1])
		neighborMaps[a][b] = drone.ChanSender(nodes[b].inbound)
		neighborMaps[b][a] = drone.ChanSender(nodes[a].inbound)
	}

	for _, n := range top.Nodes {
		id := core.NodeId(n.ID)
		sn := nodes[id]
		sn.drone = drone.New(drone.Config{
			ID:        id,
			PDR:       n.PDR,
			Neighbors: neighborMaps[id],
			Inbound:   sn.inbound,
			Commands:  sn.commands,
			Events:    sn.events,
			Logger:    slog.Default(),
		})
	}

	return nodes
}

// injectFloods sends one FloodRequest into each node named in top.Inject,
// attributed to the synthetic host id.
func injectFloods(top *Topology, nodes map[core.NodeId]*simNode, console zerolog.Logger) {
	clk := clock.New()
	for _, inj := range top.Inject {
		id := core.NodeId(inj.AtNode)
		floodID := uint64(clk.GetCurrentTimeUnique())
		console.Info().Uint8("at_node", uint8(id)).Uint64("flood_id", floodID).Msg("injecting flood request")
		nodes[id].inbound <- &packet.Packet{
			Body: packet.FloodRequest{
				FloodID:     floodID,
				InitiatorID: hostID,
				PathTrace:   []core.TraceEntry{{Node: hostID, Kind: core.NodeKindHost}},
			},
		}
	}
}

// scheduleCommands spawns one goroutine per entry in top.Commands, each
// delivering its built drone.Command to the target node's command channel
// after AtSeconds have elapsed, or abandoning the send if ctx is cancelled
// first. Callers must Wait on the returned group before tailWG to be sure
// no scripted command is still blocked on a send.
func scheduleCommands(ctx context.Context, top *Topology, nodes map[core.NodeId]*simNode, console zerolog.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, spec := range top.Commands {
		wg.Add(1)
		go func(spec CommandSpec) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(spec.AtSeconds * float64(time.Second))):
			}

			cmd, ok := buildScriptedCommand(spec, nodes)
			if !ok {
				return
			}
			console.Info().Uint8("node", spec.Node).Str("action", string(spec.Action)).Msg("applying scripted command")

			select {
			case nodes[core.NodeId(spec.Node)].commands <- cmd:
			case <-ctx.Done():
			}
		}(spec)
	}
	return &wg
}

// buildScriptedCommand translates a CommandSpec into the drone.Command it
// names. It returns false if an add_sender target is not a node of the
// simulation, or if the action is not one it knows. A remove_sender target
// is not checked.
func buildScriptedCommand(spec CommandSpec, nodes map[core.NodeId]*simNode) (drone.Command, bool) {
	switch spec.Action {
	case ActionAddSender:
		target, ok := nodes[core.NodeId(spec.Target)]
		if !ok {
			return drone.Command{}, false
		}
		return drone.AddSender(core.NodeId(spec.Target), drone.ChanSender(target.inbound)), true
	case ActionRemoveSender:
		return drone.RemoveSender(core.NodeId(spec.Target)), true
	case ActionSetPDR:
		return drone.SetPacketDropRate(spec.Rate), true
	case ActionCrash:
		return drone.CrashCommand(), true
	default:
		return drone.Command{}, false
	}
}

// tailEvents drains one drone's telemetry, logging every event to the
// console and forwarding it to the optional Prometheus recorder and Redis
// publisher.
func tailEvents(ctx context.Context, console zerolog.Logger, n *simNode, rec *telemetry.PromRecorder, rdb *redis.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-n.events:
			if !ok {
				return
			}
			console.Debug().Uint8("node", uint8(n.id)).Str("kind", e.Kind.String()).Msg("event")

			if rec != nil {
				rec.Observe(e)
			}
			if rdb != nil {
				publishEvent(ctx, rdb, n.id, e)
			}
		}
	}
}

type eventRecord struct {
	Node string `json:"node"`
	Kind string `json:"kind"`
}

func publishEvent(ctx context.Context, rdb *redis.Client, node core.NodeId, e telemetry.Event) {
	payload, err := json.Marshal(eventRecord{Node: node.String(), Kind: e.Kind.String()})
	if err != nil {
		return
	}
	rdb.Publish(ctx, "drone-events", payload)
}

func newConsoleLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
