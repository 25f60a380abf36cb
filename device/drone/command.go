package drone

import "github.com/opendrones/drone-core/core"

// CommandKind identifies which variant a Command holds.
type CommandKind uint8

const (
	CommandAddSender CommandKind = iota
	CommandRemoveSender
	CommandSetPacketDropRate
	CommandCrash
)

func (k CommandKind) String() string {
	switch k {
	case CommandAddSender:
		return "add_sender"
	case CommandRemoveSender:
		return "remove_sender"
	case CommandSetPacketDropRate:
		return "set_packet_drop_rate"
	case CommandCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// Command is a runtime instruction from the supervising controller.
type Command struct {
	Kind     CommandKind
	NodeID   core.NodeId
	Sender   SenderHandle
	DropRate float64
}

// AddSender builds a command that registers (or replaces) a neighbor link.
func AddSender(id core.NodeId, s SenderHandle) Command {
	return Command{Kind: CommandAddSender, NodeID: id, Sender: s}
}

// RemoveSender builds a command that drops a neighbor link. Removing an
// id that isn't registered is a no-op.
func RemoveSender(id core.NodeId) Command {
	return Command{Kind: CommandRemoveSender, NodeID: id}
}

// SetPacketDropRate builds a command that changes the fragment drop
// probability. Values outside [0, 1] are rejected by the drone.
func SetPacketDropRate(p float64) Command {
	return Command{Kind: CommandSetPacketDropRate, DropRate: p}
}

// CrashCommand builds the command that begins the crash-drain sequence.
func CrashCommand() Command {
	return Command{Kind: CommandCrash}
}
