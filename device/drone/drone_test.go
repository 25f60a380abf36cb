package drone

import (
	"testing"
	"time"

	"github.com/opendrones/drone-core/core"
	"github.com/opendrones/drone-core/core/packet"
	"github.com/opendrones/drone-core/telemetry"
)

// rig bundles a Drone under test with the raw channels backing its
// neighbors, commands, inbound and events, so a test can both drive it
// and inspect what it produced.
type rig struct {
	drone         *Drone
	inbound       chan *packet.Packet
	commands      chan Command
	events        chan telemetry.Event
	neighborChans map[core.NodeId]chan *packet.Packet
}

func newRig(id core.NodeId, pdr float64, rnd func() float64, neighbors ...core.NodeId) *rig {
	inbound := make(chan *packet.Packet, 8)
	commands := make(chan Command, 8)
	events := make(chan telemetry.Event, 32)

	neighborChans := make(map[core.NodeId]chan *packet.Packet, len(neighbors))
	senders := make(map[core.NodeId]SenderHandle, len(neighbors))
	for _, n := range neighbors {
		ch := make(chan *packet.Packet, 8)
		neighborChans[n] = ch
		senders[n] = ChanSender(ch)
	}

	if rnd == nil {
		rnd = func() float64 { return 0.5 }
	}

	d := New(Config{
		ID:          id,
		PDR:         pdr,
		Neighbors:   senders,
		Inbound:     inbound,
		Commands:    commands,
		Events:      events,
		RandFloat64: rnd,
	})

	return &rig{drone: d, inbound: inbound, commands: commands, events: events, neighborChans: neighborChans}
}

func fragmentPacket(sessionID uint64, hops []core.NodeId, hopIndex int, fragIdx uint64) *packet.Packet {
	return &packet.Packet{
		SessionID:     sessionID,
		RoutingHeader: packet.RoutingHeader{HopIndex: hopIndex, Hops: hops},
		Body:          packet.Fragment{FragmentIndex: fragIdx, Data: []byte("payload")},
	}
}

func recvPacket(t *testing.T, ch chan *packet.Packet) *packet.Packet {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func recvEvent(t *testing.T, ch chan telemetry.Event) telemetry.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return telemetry.Event{}
	}
}

func assertNoMorePackets(t *testing.T, ch chan *packet.Packet) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected extra packet: %+v", p)
	default:
	}
}

func assertNoMoreEvents(t *testing.T, ch chan telemetry.Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event: %+v", e)
	default:
	}
}

// Simple forward: a fragment mid-route is relayed to the next hop.
func TestSimpleForward(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)
	pkt := fragmentPacket(99, []core.NodeId{1, 2, 3}, 1, 5)

	r.drone.handlePacket(pkt)

	fwd := recvPacket(t, r.neighborChans[3])
	if fwd.RoutingHeader.HopIndex != 2 {
		t.Errorf("HopIndex = %d, want 2", fwd.RoutingHeader.HopIndex)
	}
	if got := fwd.RoutingHeader.Hops; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("Hops = %v, want unchanged [1 2 3]", got)
	}

	ev := recvEvent(t, r.events)
	if ev.Kind != telemetry.KindPacketSent {
		t.Errorf("event kind = %v, want PacketSent", ev.Kind)
	}
	assertNoMorePackets(t, r.neighborChans[1])
	assertNoMoreEvents(t, r.events)
}

// A fragment dropped by the probabilistic policy nacks the origin.
func TestDroppedFragment(t *testing.T) {
	r := newRig(2, 1.0, func() float64 { return 0 }, 1, 3)
	pkt := fragmentPacket(77, []core.NodeId{1, 2, 3}, 1, 9)

	r.drone.handlePacket(pkt)

	dropEv := recvEvent(t, r.events)
	if dropEv.Kind != telemetry.KindPacketDropped {
		t.Fatalf("first event kind = %v, want PacketDropped", dropEv.Kind)
	}

	nack := recvPacket(t, r.neighborChans[1])
	nb, ok := nack.Body.(packet.Nack)
	if !ok {
		t.Fatalf("body type = %T, want Nack", nack.Body)
	}
	if nb.NackKind != packet.NackDropped {
		t.Errorf("NackKind = %v, want NackDropped", nb.NackKind)
	}
	if nb.FragmentIndex != 9 {
		t.Errorf("FragmentIndex = %d, want 9", nb.FragmentIndex)
	}
	if nack.SessionID != 77 {
		t.Errorf("SessionID = %d, want 77", nack.SessionID)
	}
	if got := nack.RoutingHeader.Hops; len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("Hops = %v, want [2 1]", got)
	}
	if nack.RoutingHeader.HopIndex != 1 {
		t.Errorf("HopIndex = %d, want 1", nack.RoutingHeader.HopIndex)
	}

	sentEv := recvEvent(t, r.events)
	if sentEv.Kind != telemetry.KindPacketSent {
		t.Errorf("second event kind = %v, want PacketSent", sentEv.Kind)
	}
	assertNoMorePackets(t, r.neighborChans[3])
	assertNoMoreEvents(t, r.events)
}

// A fragment whose current hop doesn't name this drone is nacked.
func TestUnexpectedRecipient(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)
	pkt := fragmentPacket(1, []core.NodeId{1, 9, 3}, 1, 1)

	r.drone.handlePacket(pkt)

	nack := recvPacket(t, r.neighborChans[1])
	nb := nack.Body.(packet.Nack)
	if nb.NackKind != packet.NackUnexpectedRecipient {
		t.Errorf("NackKind = %v, want NackUnexpectedRecipient", nb.NackKind)
	}
	if nb.NodeID != 2 {
		t.Errorf("NodeID = %v, want 2", nb.NodeID)
	}
	if got := nack.RoutingHeader.Hops; len(got) != 2 || got[0] != 9 || got[1] != 1 {
		t.Errorf("Hops = %v, want [9 1]", got)
	}
	if nack.RoutingHeader.HopIndex != 1 {
		t.Errorf("HopIndex = %d, want 1", nack.RoutingHeader.HopIndex)
	}
}

// A fragment whose next hop has no registered neighbor is nacked.
func TestErrorInRouting(t *testing.T) {
	r := newRig(2, 0, nil, 1)
	pkt := fragmentPacket(1, []core.NodeId{1, 2, 3}, 1, 1)

	r.drone.handlePacket(pkt)

	nack := recvPacket(t, r.neighborChans[1])
	nb := nack.Body.(packet.Nack)
	if nb.NackKind != packet.NackErrorInRouting {
		t.Errorf("NackKind = %v, want NackErrorInRouting", nb.NackKind)
	}
	if nb.NodeID != 3 {
		t.Errorf("NodeID = %v, want 3", nb.NodeID)
	}
	// Uniform truncation rule (hops[0..hop_index] inclusive, reversed):
	// prefix [1 2] reversed is [2 1], sent to neighbor 1.
	if got := nack.RoutingHeader.Hops; len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("Hops = %v, want [2 1]", got)
	}
}

// A flood request not seen before fans out to every neighbor but
// the one it arrived from.
func TestFloodFanout(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3, 4)
	pkt := &packet.Packet{
		SessionID: 1,
		Body: packet.FloodRequest{
			FloodID:     7,
			InitiatorID: 1,
			PathTrace:   []core.TraceEntry{{Node: 1, Kind: core.NodeKindHost}},
		},
	}

	r.drone.handlePacket(pkt)

	if !r.drone.seenFloods.Seen(7) {
		t.Error("seen_floods should contain 7")
	}

	assertNoMorePackets(t, r.neighborChans[1])

	for _, n := range []core.NodeId{3, 4} {
		fwd := recvPacket(t, r.neighborChans[n])
		req, ok := fwd.Body.(packet.FloodRequest)
		if !ok {
			t.Fatalf("body type = %T, want FloodRequest", fwd.Body)
		}
		want := []core.TraceEntry{{Node: 1, Kind: core.NodeKindHost}, {Node: 2, Kind: core.NodeKindDrone}}
		if len(req.PathTrace) != len(want) || req.PathTrace[0] != want[0] || req.PathTrace[1] != want[1] {
			t.Errorf("PathTrace = %v, want %v", req.PathTrace, want)
		}
		recvEvent(t, r.events)
	}
	assertNoMoreEvents(t, r.events)
}

// A flood request already seen terminates with a single response
// instead of fanning out again.
func TestFloodTermination(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3, 4)
	r.drone.seenFloods.Mark(7)

	pkt := &packet.Packet{
		SessionID: 1,
		Body: packet.FloodRequest{
			FloodID:     7,
			InitiatorID: 1,
			PathTrace: []core.TraceEntry{
				{Node: 1, Kind: core.NodeKindHost},
				{Node: 5, Kind: core.NodeKindDrone},
				{Node: 3, Kind: core.NodeKindDrone},
			},
		},
	}

	r.drone.handlePacket(pkt)

	assertNoMorePackets(t, r.neighborChans[1])
	assertNoMorePackets(t, r.neighborChans[4])

	resp := recvPacket(t, r.neighborChans[3])
	fr, ok := resp.Body.(packet.FloodResponse)
	if !ok {
		t.Fatalf("body type = %T, want FloodResponse", resp.Body)
	}
	wantTrace := []core.TraceEntry{
		{Node: 1, Kind: core.NodeKindHost},
		{Node: 5, Kind: core.NodeKindDrone},
		{Node: 3, Kind: core.NodeKindDrone},
		{Node: 2, Kind: core.NodeKindDrone},
	}
	if len(fr.PathTrace) != len(wantTrace) {
		t.Fatalf("PathTrace = %v, want %v", fr.PathTrace, wantTrace)
	}
	for i := range wantTrace {
		if fr.PathTrace[i] != wantTrace[i] {
			t.Errorf("PathTrace[%d] = %v, want %v", i, fr.PathTrace[i], wantTrace[i])
		}
	}
	if got := resp.RoutingHeader.Hops; len(got) != 4 || got[0] != 2 || got[1] != 3 || got[2] != 5 || got[3] != 1 {
		t.Errorf("Hops = %v, want [2 3 5 1]", got)
	}
	if resp.RoutingHeader.HopIndex != 1 {
		t.Errorf("HopIndex = %d, want 1", resp.RoutingHeader.HopIndex)
	}

	recvEvent(t, r.events)
	assertNoMoreEvents(t, r.events)
}

// Removing a neighbor mid-flight produces ErrorInRouting for a
// fragment and a ControllerShortcut for a non-fragment.
func TestRemovedNeighbor_Fragment(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)
	delete(r.drone.neighbors, 3)

	pkt := fragmentPacket(1, []core.NodeId{1, 2, 3}, 1, 1)
	r.drone.handlePacket(pkt)

	nack := recvPacket(t, r.neighborChans[1])
	nb := nack.Body.(packet.Nack)
	if nb.NackKind != packet.NackErrorInRouting || nb.NodeID != 3 {
		t.Errorf("Nack = %+v, want ErrorInRouting(3)", nb)
	}
}

func TestRemovedNeighbor_Ack(t *testing.T) {
	r := newRig(2, 0, nil, 1)
	pkt := &packet.Packet{
		SessionID:     1,
		RoutingHeader: packet.RoutingHeader{HopIndex: 1, Hops: []core.NodeId{1, 2, 3}},
		Body:          packet.Ack{FragmentIndex: 1},
	}

	r.drone.handlePacket(pkt)

	ev := recvEvent(t, r.events)
	if ev.Kind != telemetry.KindControllerShortcut {
		t.Errorf("event kind = %v, want ControllerShortcut", ev.Kind)
	}
	if ev.Packet != pkt {
		t.Error("shortcut event should carry the original packet")
	}
	assertNoMorePackets(t, r.neighborChans[1])
}

func TestForwardOnly_Ack_Success(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)
	pkt := &packet.Packet{
		SessionID:     5,
		RoutingHeader: packet.RoutingHeader{HopIndex: 1, Hops: []core.NodeId{1, 2, 3}},
		Body:          packet.Ack{FragmentIndex: 2},
	}

	r.drone.handlePacket(pkt)

	fwd := recvPacket(t, r.neighborChans[3])
	if fwd.RoutingHeader.HopIndex != 2 {
		t.Errorf("HopIndex = %d, want 2", fwd.RoutingHeader.HopIndex)
	}
	ev := recvEvent(t, r.events)
	if ev.Kind != telemetry.KindPacketSent {
		t.Errorf("event kind = %v, want PacketSent", ev.Kind)
	}
}

func TestDestinationIsDrone(t *testing.T) {
	r := newRig(2, 0, nil, 1)
	pkt := fragmentPacket(1, []core.NodeId{1, 2}, 1, 1)

	r.drone.handlePacket(pkt)

	nack := recvPacket(t, r.neighborChans[1])
	nb := nack.Body.(packet.Nack)
	if nb.NackKind != packet.NackDestinationIsDrone {
		t.Errorf("NackKind = %v, want NackDestinationIsDrone", nb.NackKind)
	}
}

func TestApplyCommand_AddRemoveSender(t *testing.T) {
	r := newRig(2, 0, nil)
	ch := make(chan *packet.Packet, 1)

	r.drone.applyCommand(AddSender(5, ChanSender(ch)))
	if _, ok := r.drone.neighbors[5]; !ok {
		t.Fatal("AddSender did not register neighbor")
	}

	r.drone.applyCommand(RemoveSender(5))
	if _, ok := r.drone.neighbors[5]; ok {
		t.Fatal("RemoveSender did not remove neighbor")
	}

	// Absent key is a no-op, not an error.
	r.drone.applyCommand(RemoveSender(5))
}

func TestApplyCommand_AddSender_Overwrites(t *testing.T) {
	r := newRig(2, 0, nil)
	ch1 := make(chan *packet.Packet, 1)
	ch2 := make(chan *packet.Packet, 1)

	r.drone.applyCommand(AddSender(5, ChanSender(ch1)))
	r.drone.applyCommand(AddSender(5, ChanSender(ch2)))

	if r.drone.neighbors[5] == nil {
		t.Fatal("neighbor missing after overwrite")
	}
}

func TestApplyCommand_SetPacketDropRate(t *testing.T) {
	r := newRig(2, 0, nil)

	if crash := r.drone.applyCommand(SetPacketDropRate(0.5)); crash {
		t.Fatal("SetPacketDropRate should never report crash")
	}
	if r.drone.pdr != 0.5 {
		t.Errorf("pdr = %v, want 0.5", r.drone.pdr)
	}

	// Out-of-range values are rejected: pdr is unchanged.
	r.drone.applyCommand(SetPacketDropRate(1.5))
	if r.drone.pdr != 0.5 {
		t.Errorf("pdr = %v, want unchanged 0.5 after rejected command", r.drone.pdr)
	}
	r.drone.applyCommand(SetPacketDropRate(-0.1))
	if r.drone.pdr != 0.5 {
		t.Errorf("pdr = %v, want unchanged 0.5 after rejected command", r.drone.pdr)
	}
}

func TestApplyCommand_Crash(t *testing.T) {
	r := newRig(2, 0, nil)
	if crash := r.drone.applyCommand(CrashCommand()); !crash {
		t.Error("Crash command should report crash=true")
	}
}

func TestNew_RejectsSelfAsNeighbor(t *testing.T) {
	ch := make(chan *packet.Packet, 1)
	d := New(Config{
		ID:        2,
		Neighbors: map[core.NodeId]SenderHandle{2: ChanSender(ch)},
	})
	if _, ok := d.neighbors[2]; ok {
		t.Error("drone should never list itself as a neighbor")
	}
}

func TestNew_ClampsInitialPDR(t *testing.T) {
	d := New(Config{ID: 1, PDR: 5})
	if d.PDR() != 1 {
		t.Errorf("PDR() = %v, want clamped to 1", d.PDR())
	}
	d = New(Config{ID: 1, PDR: -5})
	if d.PDR() != 0 {
		t.Errorf("PDR() = %v, want clamped to 0", d.PDR())
	}
}

// Commands preempt packets when both are simultaneously ready.
func TestRun_CommandsPreemptPackets(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)

	// Queue a packet and a command before starting the loop, so both are
	// ready the first time Run selects.
	r.inbound <- fragmentPacket(1, []core.NodeId{1, 2, 3}, 1, 1)
	r.commands <- SetPacketDropRate(0.75)

	done := make(chan struct{})
	go func() {
		r.drone.Run()
		close(done)
	}()

	// The command is applied first, so the fragment meets pdr 0.75 and the
	// rig's fixed draw of 0.5 drops it: a Dropped nack goes back to 1.
	nack := recvPacket(t, r.neighborChans[1])
	if nb, ok := nack.Body.(packet.Nack); !ok || nb.NackKind != packet.NackDropped {
		t.Errorf("body = %+v, want Dropped nack (command should run before the packet)", nack.Body)
	}
	r.commands <- CrashCommand()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Crash")
	}

	if r.drone.PDR() != 0.75 {
		t.Errorf("pdr = %v, want 0.75 (command should have been applied)", r.drone.PDR())
	}
}

func TestRun_CrashDrainsQueuedPackets(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)

	r.inbound <- fragmentPacket(10, []core.NodeId{1, 2, 3}, 1, 1)
	r.inbound <- fragmentPacket(11, []core.NodeId{1, 2, 3}, 1, 2)
	r.commands <- CrashCommand()

	done := make(chan struct{})
	go func() {
		r.drone.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Crash")
	}

	first := recvPacket(t, r.neighborChans[3])
	second := recvPacket(t, r.neighborChans[3])
	if first.SessionID != 10 || second.SessionID != 11 {
		t.Errorf("drained packets out of order: got sessions %d, %d", first.SessionID, second.SessionID)
	}
}

func TestRun_ClosedInboundDoesNotExitLoop(t *testing.T) {
	r := newRig(2, 0, nil, 1, 3)
	close(r.inbound)

	done := make(chan struct{})
	go func() {
		r.drone.Run()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run returned after inbound closed, without a Crash command")
	case <-time.After(50 * time.Millisecond):
	}

	r.commands <- CrashCommand()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Crash")
	}
}

func TestSenderHandle_ClosedChannelIsSoftFailure(t *testing.T) {
	ch := make(chan *packet.Packet)
	close(ch)

	if err := ChanSender(ch).Send(&packet.Packet{}); err != ErrNeighborClosed {
		t.Errorf("Send() error = %v, want ErrNeighborClosed", err)
	}
}
