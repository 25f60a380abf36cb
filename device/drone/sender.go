package drone

import (
	"errors"

	"github.com/opendrones/drone-core/core/packet"
)

// ErrNeighborClosed is returned by a SenderHandle when its underlying
// channel or transport has gone away. It is never fatal to the drone.
var ErrNeighborClosed = errors.New("drone: neighbor channel closed")

// SenderHandle is the write side of a neighbor link: something a drone
// can hand a fully-formed packet to. In-process it is backed by a plain
// Go channel (ChanSender); transport/mqtt's NeighborSender is an
// out-of-process implementation of the same interface.
type SenderHandle interface {
	Send(p *packet.Packet) error
}

// ChanSender adapts a send-only Packet channel to SenderHandle. Sending
// on a closed channel normally panics; ChanSender recovers and reports it
// as ErrNeighborClosed instead, so a crashed neighbor's closed channel
// never takes down its peers.
type ChanSender chan<- *packet.Packet

// Send implements SenderHandle. It blocks if the channel's buffer is
// full; that is legitimate upstream backpressure, not an error
// condition.
func (s ChanSender) Send(p *packet.Packet) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrNeighborClosed
		}
	}()
	s <- p
	return nil
}
