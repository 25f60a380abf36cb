// Package mqtt provides an MQTT-backed neighbor link between forwarding
// drones. Packets are published to a per-destination topic so that a drone
// subscribes only to traffic addressed to itself, transmitted as raw
// wire.EncodePacket bytes.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/transport"
	"github.com/opendrones/drone-core/wire"
)

var _ transport.Transport = (*Transport)(nil)

const DefaultTopicPrefix = "drones"

// Config holds the configuration for an MQTT neighbor link.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "drones").
	TopicPrefix string
	// MeshID identifies this mesh of drones. Topics are scoped to
	// "{TopicPrefix}/{MeshID}/{fromID}/{toID}".
	MeshID string
	// ID is this drone's node id. The transport subscribes to every topic
	// addressed to it, regardless of sender.
	ID core.NodeId
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg           Config
	client        paho.Client
	log           *slog.Logger
	mu            sync.RWMutex
	connected     bool
	packetHandler transport.PacketHandler
	stateHandler  transport.StateHandler
}

// New creates a new MQTT neighbor link with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the MQTT broker and begins listening for packets
// addressed to this drone. ctx is not used: cancelling it does not close
// the connection, which lasts until Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.MeshID == "" {
		return errors.New("mesh ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "drone-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// SetPacketHandler sets the callback for incoming packets.
func (t *Transport) SetPacketHandler(fn transport.PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// NeighborSender returns a drone.SenderHandle-compatible sender that
// publishes packets addressed to toID. It satisfies the same interface
// shape as device/drone.SenderHandle without importing the drone package,
// keeping transport/mqtt free of a dependency on the drone engine.
func (t *Transport) NeighborSender(toID core.NodeId) *NeighborSender {
	return &NeighborSender{t: t, to: toID}
}

// NeighborSender publishes packets to one specific neighbor's topic.
type NeighborSender struct {
	t  *Transport
	to core.NodeId
}

// Send implements device/drone.SenderHandle.
func (n *NeighborSender) Send(p *packet.Packet) error {
	return n.t.publish(n.to, p)
}

func (t *Transport) publish(toID core.NodeId, p *packet.Packet) error {
	if !t.IsConnected() {
		return errors.New("not connected")
	}

	data, err := wire.EncodePacket(p)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}

	topic := t.topicFor(t.cfg.ID, toID)
	token := t.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (t *Transport) topicFor(fromID, toID core.NodeId) string {
	return fmt.Sprintf("%s/%s/%d/%d", t.cfg.TopicPrefix, t.cfg.MeshID, fromID, toID)
}

// inboundFilter subscribes to every sender addressed to this drone's id,
// using MQTT's single-level wildcard for the fromID segment.
func (t *Transport) inboundFilter() string {
	return fmt.Sprintf("%s/%s/+/%d", t.cfg.TopicPrefix, t.cfg.MeshID, t.cfg.ID)
}

func (t *Transport) subscribe() {
	topic := t.inboundFilter()
	t.client.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed to inbound topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.mu.RLock()
	handler := t.packetHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	p, err := wire.DecodePacket(message.Payload())
	if err != nil {
		t.log.Debug("failed to decode packet", "error", err)
		return
	}

	handler(p, transport.PacketSourceMQTT)
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
