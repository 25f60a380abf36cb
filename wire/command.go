package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/device/drone"
)

// ErrSenderNotSerializable is returned by EncodeCommand for
// drone.CommandAddSender: a SenderHandle is a live, in-process value and
// has no wire representation. AddSender is only ever issued in-process by
// the simulator harness that owns the channel; ground control reaches a
// drone's neighbor set only indirectly, by asking the harness to wire a
// new link.
var ErrSenderNotSerializable = errors.New("wire: add-sender command has no wire encoding")

var ErrCommandTooShort = errors.New("wire: command too short")

// EncodeCommand serializes cmd for the ground-control link.
func EncodeCommand(cmd drone.Command) ([]byte, error) {
	if cmd.Kind == drone.CommandAddSender {
		return nil, ErrSenderNotSerializable
	}

	buf := make([]byte, 0, 18)
	buf = append(buf, uint8(cmd.Kind))
	buf = append(buf, uint8(cmd.NodeID))
	buf = appendUint64(buf, math.Float64bits(cmd.DropRate))
	return buf, nil
}

// DecodeCommand parses the wire representation produced by EncodeCommand.
// The returned Command never has CommandKind CommandAddSender.
func DecodeCommand(data []byte) (drone.Command, error) {
	if len(data) < 10 {
		return drone.Command{}, ErrCommandTooShort
	}

	kind := drone.CommandKind(data[0])
	nodeID := core.NodeId(data[1])
	dropRate := math.Float64frombits(binary.BigEndian.Uint64(data[2:10]))

	switch kind {
	case drone.CommandRemoveSender:
		return drone.RemoveSender(nodeID), nil
	case drone.CommandSetPacketDropRate:
		return drone.SetPacketDropRate(dropRate), nil
	case drone.CommandCrash:
		return drone.CrashCommand(), nil
	default:
		return drone.Command{}, fmt.Errorf("wire: unknown or unsupported command kind %d", kind)
	}
}
