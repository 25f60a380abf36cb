package drone

// applyCommand applies a runtime command to the drone's mutable state.
// It returns true when cmd is a Crash, signaling the event loop to enter
// crash-drain and terminate.
func (d *Drone) applyCommand(cmd Command) (crash bool) {
	switch cmd.Kind {
	case CommandAddSender:
		if cmd.NodeID == d.id {
			d.log.Warn("rejecting add-sender: cannot add self as neighbor")
			return false
		}
		d.neighbors[cmd.NodeID] = cmd.Sender
	case CommandRemoveSender:
		delete(d.neighbors, cmd.NodeID)
	case CommandSetPacketDropRate:
		if cmd.DropRate < 0 || cmd.DropRate > 1 {
			d.log.Warn("rejecting out-of-range drop rate", "value", cmd.DropRate)
			return false
		}
		d.pdr = cmd.DropRate
	case CommandCrash:
		return true
	}
	return false
}
