// Package wire implements the binary encoding of core/packet and
// device/drone types exchanged across process boundaries: the MQTT neighbor
// link and the serial ground-control link.
//
// The format uses a leading kind byte, fixed-width big-endian integers,
// explicit size-limit constants, and sentinel errors rather than panics on
// malformed input.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
)

const (
	// Size limits. A malformed or hostile peer must never make the
	// decoder allocate an unbounded buffer.
	MaxHops         = 255
	MaxTraceLen     = 255
	MaxFragmentData = 1 << 16 // 64 KiB
)

// bodyKind tags which packet.Body variant follows the routing header on
// the wire. It is distinct from packet.Kind only in that it is the
// stable integer committed to the wire format; packet.Kind may grow new
// values without renumbering this one.
type bodyKind uint8

const (
	wireFragment bodyKind = iota
	wireAck
	wireNack
	wireFloodRequest
	wireFloodResponse
)

var (
	ErrPacketTooShort  = errors.New("wire: packet too short")
	ErrHopsTooLong     = errors.New("wire: hops exceed maximum")
	ErrTraceTooLong    = errors.New("wire: path trace exceeds maximum")
	ErrPayloadTooLong  = errors.New("wire: fragment data exceeds maximum")
	ErrUnknownBodyKind = errors.New("wire: unknown body kind")
	ErrUnsupportedBody = errors.New("wire: body type has no wire encoding")
)

// EncodePacket serializes p to its wire representation.
func EncodePacket(p *packet.Packet) ([]byte, error) {
	if len(p.RoutingHeader.Hops) > MaxHops {
		return nil, fmt.Errorf("%w: %d hops", ErrHopsTooLong, len(p.RoutingHeader.Hops))
	}

	var buf []byte
	buf = appendUint64(buf, p.SessionID)
	buf = append(buf, uint8(p.RoutingHeader.HopIndex))
	buf = append(buf, uint8(len(p.RoutingHeader.Hops)))
	for _, h := range p.RoutingHeader.Hops {
		buf = append(buf, uint8(h))
	}

	switch body := p.Body.(type) {
	case packet.Fragment:
		if len(body.Data) > MaxFragmentData {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(body.Data))
		}
		buf = append(buf, uint8(wireFragment))
		buf = appendUint64(buf, body.FragmentIndex)
		buf = appendUint32(buf, uint32(len(body.Data)))
		buf = append(buf, body.Data...)
	case packet.Ack:
		buf = append(buf, uint8(wireAck))
		buf = appendUint64(buf, body.FragmentIndex)
	case packet.Nack:
		buf = append(buf, uint8(wireNack))
		buf = appendUint64(buf, body.FragmentIndex)
		buf = append(buf, uint8(body.NackKind))
		buf = append(buf, uint8(body.NodeID))
	case packet.FloodRequest:
		if len(body.PathTrace) > MaxTraceLen {
			return nil, fmt.Errorf("%w: %d entries", ErrTraceTooLong, len(body.PathTrace))
		}
		buf = append(buf, uint8(wireFloodRequest))
		buf = appendUint64(buf, body.FloodID)
		buf = append(buf, uint8(body.InitiatorID))
		buf = appendTrace(buf, body.PathTrace)
	case packet.FloodResponse:
		if len(body.PathTrace) > MaxTraceLen {
			return nil, fmt.Errorf("%w: %d entries", ErrTraceTooLong, len(body.PathTrace))
		}
		buf = append(buf, uint8(wireFloodResponse))
		buf = appendUint64(buf, body.FloodID)
		buf = appendTrace(buf, body.PathTrace)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBody, p.Body)
	}

	return buf, nil
}

// DecodePacket parses the wire representation produced by EncodePacket.
func DecodePacket(data []byte) (*packet.Packet, error) {
	if len(data) < 10 {
		return nil, ErrPacketTooShort
	}

	p := &packet.Packet{}
	p.SessionID = binary.BigEndian.Uint64(data[0:8])
	hopIndex := int(data[8])
	hopsLen := int(data[9])
	i := 10

	if len(data) < i+hopsLen {
		return nil, ErrPacketTooShort
	}
	hops := make([]core.NodeId, hopsLen)
	for j := 0; j < hopsLen; j++ {
		hops[j] = core.NodeId(data[i+j])
	}
	i += hopsLen
	p.RoutingHeader = packet.RoutingHeader{HopIndex: hopIndex, Hops: hops}

	if len(data) < i+1 {
		return nil, ErrPacketTooShort
	}
	kind := bodyKind(data[i])
	i++

	switch kind {
	case wireFragment:
		if len(data) < i+12 {
			return nil, ErrPacketTooShort
		}
		fragIdx := binary.BigEndian.Uint64(data[i : i+8])
		dataLen := binary.BigEndian.Uint32(data[i+8 : i+12])
		i += 12
		if uint32(len(data)-i) < dataLen {
			return nil, ErrPacketTooShort
		}
		payload := make([]byte, dataLen)
		copy(payload, data[i:i+int(dataLen)])
		p.Body = packet.Fragment{FragmentIndex: fragIdx, Data: payload}
	case wireAck:
		if len(data) < i+8 {
			return nil, ErrPacketTooShort
		}
		p.Body = packet.Ack{FragmentIndex: binary.BigEndian.Uint64(data[i : i+8])}
	case wireNack:
		if len(data) < i+10 {
			return nil, ErrPacketTooShort
		}
		fragIdx := binary.BigEndian.Uint64(data[i : i+8])
		nackKind := packet.NackKind(data[i+8])
		nodeID := core.NodeId(data[i+9])
		p.Body = packet.Nack{FragmentIndex: fragIdx, NackKind: nackKind, NodeID: nodeID}
	case wireFloodRequest:
		if len(data) < i+9 {
			return nil, ErrPacketTooShort
		}
		floodID := binary.BigEndian.Uint64(data[i : i+8])
		initiator := core.NodeId(data[i+8])
		i += 9
		trace, err := decodeTrace(data[i:])
		if err != nil {
			return nil, err
		}
		p.Body = packet.FloodRequest{FloodID: floodID, InitiatorID: initiator, PathTrace: trace}
	case wireFloodResponse:
		if len(data) < i+8 {
			return nil, ErrPacketTooShort
		}
		floodID := binary.BigEndian.Uint64(data[i : i+8])
		i += 8
		trace, err := decodeTrace(data[i:])
		if err != nil {
			return nil, err
		}
		p.Body = packet.FloodResponse{FloodID: floodID, PathTrace: trace}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownBodyKind, kind)
	}

	return p, nil
}

func appendTrace(buf []byte, trace []core.TraceEntry) []byte {
	buf = append(buf, uint8(len(trace)))
	for _, e := range trace {
		buf = append(buf, uint8(e.Node), uint8(e.Kind))
	}
	return buf
}

func decodeTrace(data []byte) ([]core.TraceEntry, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}
	n := int(data[0])
	if len(data) < 1+2*n {
		return nil, ErrPacketTooShort
	}
	trace := make([]core.TraceEntry, n)
	for i := 0; i < n; i++ {
		trace[i] = core.TraceEntry{
			Node: core.NodeId(data[1+2*i]),
			Kind: core.NodeKind(data[1+2*i+1]),
		}
	}
	return trace, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
