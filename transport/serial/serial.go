// Package serial provides the ground-control link: a serial connection
// carrying device/drone.Command frames down to a drone and
// telemetry.Event frames back up, for a drone running on hardware separate
// from the simulator harness. Framing is the RS232 magic/length/Fletcher-16
// format from core/codec, carrying wire.EncodeCommand/EncodeEvent payloads.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/opendrones/drone-core/core/codec"
	"github.com/opendrones/drone-core/device/drone"
	"github.com/opendrones/drone-core/telemetry"
	"github.com/opendrones/drone-core/transport"
	"github.com/opendrones/drone-core/wire"
	"go.bug.st/serial"
)

var _ transport.Transport = (*Transport)(nil)

const (
	DefaultBaudRate = 115200
	readBufSize     = 1024
)

// CommandHandler is called when a Command frame arrives from ground control.
type CommandHandler func(cmd drone.Command)

// Config holds the configuration for a ground-control serial link.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	cfg            Config
	port           serial.Port
	log            *slog.Logger
	mu             sync.RWMutex
	connected      bool
	cancel         context.CancelFunc
	done           chan struct{}
	commandHandler CommandHandler
	stateHandler   transport.StateHandler
}

// New creates a new serial ground-control link with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
	}
}

// Start opens the serial port and begins reading command frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	handler := t.stateHandler
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.readLoop(readCtx)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetCommandHandler sets the callback for commands arriving from ground
// control.
func (t *Transport) SetCommandHandler(fn CommandHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendEvent encodes a telemetry event in an RS232 frame and writes it to
// the serial port, for delivery up to ground control.
func (t *Transport) SendEvent(e telemetry.Event) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("not connected")
	}

	data, err := wire.EncodeEvent(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	frame, err := codec.EncodeRS232Frame(data)
	if err != nil {
		return fmt.Errorf("encoding RS232 frame: %w", err)
	}

	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		assemblyBuf = append(assemblyBuf, buf[:n]...)
		assemblyBuf = t.processFrames(assemblyBuf)
	}
}

// processFrames extracts complete RS232 frames from data and dispatches
// commands. It returns any remaining bytes that don't form a complete
// frame.
func (t *Transport) processFrames(data []byte) []byte {
	for len(data) >= codec.MinFrameSize {
		frame, remaining, err := codec.DecodeRS232Frame(data)
		if err != nil {
			if errors.Is(err, codec.ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}

		data = remaining

		cmd, err := wire.DecodeCommand(frame.Payload)
		if err != nil {
			t.log.Debug("failed to parse command frame", "error", err)
			continue
		}

		t.mu.RLock()
		handler := t.commandHandler
		t.mu.RUnlock()

		if handler != nil {
			handler(cmd)
		}
	}

	return data
}

func findMagic(data []byte) int {
	magic := [2]byte{byte(uint16(codec.BridgePacketMagic) >> 8), byte(codec.BridgePacketMagic & 0xFF)}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] {
			return i
		}
	}
	return -1
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
