package wire

import (
	"errors"

	"github.com/opendrones/drone-core/telemetry"
)

var ErrEventTooShort = errors.New("wire: event too short")

// EncodeEvent serializes e for the ground-control link: the kind byte, a
// presence byte (0 for a nil packet, 1 otherwise) and, when present, the
// whole packet as EncodePacket produces it, fragment payload bytes
// included.
func EncodeEvent(e telemetry.Event) ([]byte, error) {
	buf := []byte{uint8(e.Kind)}
	if e.Packet == nil {
		buf = append(buf, 0)
		return buf, nil
	}
	buf = append(buf, 1)

	hdr, err := EncodePacket(e.Packet)
	if err != nil {
		return nil, err
	}
	return append(buf, hdr...), nil
}

// DecodeEvent parses the wire representation produced by EncodeEvent.
func DecodeEvent(data []byte) (telemetry.Event, error) {
	if len(data) < 2 {
		return telemetry.Event{}, ErrEventTooShort
	}
	kind := telemetry.Kind(data[0])
	if data[1] == 0 {
		return telemetry.Event{Kind: kind}, nil
	}
	p, err := DecodePacket(data[2:])
	if err != nil {
		return telemetry.Event{}, err
	}
	return telemetry.Event{Kind: kind, Packet: p}, nil
}
