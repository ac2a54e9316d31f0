package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/dkeye/meshcall/internal/wire"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func join(t *testing.T, p *participant, room domain.RoomID, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.coord.Join(ctx, room, name))
	require.Eventually(t, func() bool { return p.coord.Room() == room }, waitFor, tick)
}

func connectedTo(p *participant, ids ...domain.ConnectionID) func() bool {
	return func() bool {
		states := p.coord.Peers()
		for _, id := range ids {
			if states[id] != negotiation.Connected {
				return false
			}
		}
		return true
	}
}

func only(t *testing.T, n *fakeNet, remote domain.ConnectionID) *fakeTransport {
	t.Helper()
	ts := n.toward(remote)
	require.Len(t, ts, 1, "transports from %s toward %s", n.owner, remote)
	return ts[0]
}

func TestTwoParticipants(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateJoiner)
	b := connect(t, r, "b", InitiateJoiner)

	var mu sync.Mutex
	var seen []negotiation.State
	b.coord.OnPeerState(func(remote domain.ConnectionID, s negotiation.State) {
		mu.Lock()
		defer mu.Unlock()
		if remote == "a" {
			seen = append(seen, s)
		}
	})

	join(t, a, "r1", "Alice")
	assert.Empty(t, a.coord.Roster())
	join(t, b, "r1", "Bob")

	require.Eventually(t, connectedTo(a, "b"), waitFor, tick)
	require.Eventually(t, connectedTo(b, "a"), waitFor, tick)

	fromA := only(t, a.net, "b").view()
	fromB := only(t, b.net, "a").view()
	assert.Equal(t, 0, fromA.offers)
	assert.Equal(t, 1, fromB.offers)
	assert.Equal(t, fromB.localDesc.SDP, fromA.remoteDesc.SDP)
	assert.Equal(t, fromA.localDesc.SDP, fromB.remoteDesc.SDP)

	require.Eventually(t, func() bool {
		return len(only(t, a.net, "b").view().applied) == 1 && len(only(t, b.net, "a").view().applied) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"host-b"}, only(t, a.net, "b").view().applied)

	assert.Equal(t, domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}, a.coord.Roster())
	assert.Equal(t, domain.Roster{{ConnectionID: "a", DisplayName: "Alice"}}, b.coord.Roster())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []negotiation.State{negotiation.Offering, negotiation.Connected}, seen)
	mu.Unlock()
}

func TestThreeParticipantsFullMesh(t *testing.T) {
	r := newRelay()
	ps := []*participant{
		connect(t, r, "a", InitiateJoiner),
		connect(t, r, "b", InitiateJoiner),
		connect(t, r, "c", InitiateJoiner),
	}
	for _, p := range ps {
		join(t, p, "r1", "user-"+string(p.cid))
	}

	for _, p := range ps {
		var others []domain.ConnectionID
		for _, q := range ps {
			if q != p {
				others = append(others, q.cid)
			}
		}
		require.Eventually(t, connectedTo(p, others...), waitFor, tick, "participant %s", p.cid)
	}

	for i, x := range ps {
		for _, y := range ps[i+1:] {
			xy := only(t, x.net, y.cid).view()
			yx := only(t, y.net, x.cid).view()
			assert.Equal(t, 1, xy.offers+yx.offers, "offers between %s and %s", x.cid, y.cid)
			assert.Equal(t, 1, yx.offers, "the later joiner %s offers", y.cid)
		}
	}
	assert.Equal(t, []domain.ConnectionID{"a", "b"}, ps[2].coord.Roster().IDs())
}

func TestDisconnectClosesExactlyOnce(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateJoiner)
	b := connect(t, r, "b", InitiateJoiner)
	join(t, a, "r1", "Alice")
	join(t, b, "r1", "Bob")
	require.Eventually(t, connectedTo(a, "b"), waitFor, tick)

	r.Disconnect("b")

	tr := only(t, a.net, "b")
	require.Eventually(t, func() bool { return tr.view().closes == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(a.coord.Peers()) == 0 }, waitFor, tick)
	assert.Empty(t, a.coord.Roster())

	require.NoError(t, a.coord.Close(context.Background()))
	assert.Equal(t, 1, tr.view().closes)
}

func TestInitiateBothConverges(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateBoth)
	b := connect(t, r, "b", InitiateBoth)
	join(t, a, "r1", "Alice")
	join(t, b, "r1", "Bob")

	require.Eventually(t, connectedTo(a, "b"), waitFor, tick)
	require.Eventually(t, connectedTo(b, "a"), waitFor, tick)

	ab := only(t, a.net, "b").view()
	ba := only(t, b.net, "a").view()
	assert.Equal(t, ab.localDesc.SDP, ba.remoteDesc.SDP)
	assert.Equal(t, ba.localDesc.SDP, ab.remoteDesc.SDP)
	assert.Equal(t, 0, ab.rollbacks, "smaller id never rolls back")
	assert.LessOrEqual(t, ba.rollbacks, 1)
}

// Both sides offer when b joins; only a's offer may be answered.
func TestInitiateBothSingleOfferSurvives(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateBoth)
	b := connect(t, r, "b", InitiateBoth)
	join(t, a, "r1", "Alice")
	assert.Empty(t, a.coord.Roster())
	join(t, b, "r1", "Bob")

	require.Eventually(t, connectedTo(a, "b"), waitFor, tick)
	require.Eventually(t, connectedTo(b, "a"), waitFor, tick)

	ab := only(t, a.net, "b").view()
	ba := only(t, b.net, "a").view()
	assert.Equal(t, 1, ab.offers)
	assert.Equal(t, 0, ab.rollbacks)
	assert.LessOrEqual(t, ba.offers, 1)
	assert.Equal(t, ba.offers, ba.rollbacks, "b's own offer, if any, is rolled back")

	require.NotNil(t, ba.remoteDesc)
	assert.Equal(t, "offer a>b", ba.remoteDesc.SDP, "only a's offer is applied")
	require.NotNil(t, ab.remoteDesc)
	assert.Equal(t, domain.SDPTypeAnswer, ab.remoteDesc.Type, "b's offer is never applied by a")
	assert.Equal(t, "answer b>a", ab.remoteDesc.SDP)
	assert.Equal(t, domain.SDPTypeOffer, ab.localDesc.Type)
	assert.Equal(t, domain.SDPTypeAnswer, ba.localDesc.Type)
}

func TestLeaveReleasesTransports(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateJoiner)
	b := connect(t, r, "b", InitiateJoiner)
	join(t, a, "r1", "Alice")
	join(t, b, "r1", "Bob")
	require.Eventually(t, connectedTo(a, "b"), waitFor, tick)

	require.NoError(t, a.coord.Leave(context.Background()))

	assert.Equal(t, 1, only(t, a.net, "b").view().closes)
	assert.Empty(t, a.coord.Roster())
	assert.Empty(t, a.coord.Peers())
	assert.Equal(t, domain.RoomID(""), a.coord.Room())
	assert.ErrorIs(t, a.coord.SendChat("hi"), ErrNotJoined)

	ba := only(t, b.net, "a")
	require.Eventually(t, func() bool { return ba.view().closes == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(b.coord.Roster()) == 0 }, waitFor, tick)
}

func TestChat(t *testing.T) {
	r := newRelay()
	a := connect(t, r, "a", InitiateJoiner)
	b := connect(t, r, "b", InitiateJoiner)

	assert.ErrorIs(t, a.coord.SendChat("early"), ErrNotJoined)

	got := make(chan domain.ChatMessage, 4)
	a.coord.OnChat(func(m domain.ChatMessage) { got <- m })
	b.coord.OnChat(func(m domain.ChatMessage) { got <- m })

	join(t, a, "r1", "Alice")
	join(t, b, "r1", "Bob")
	require.NoError(t, b.coord.SendChat("hello"))

	for range 2 {
		select {
		case m := <-got:
			assert.Equal(t, "Bob", m.SenderDisplayName)
			assert.Equal(t, "hello", m.Text)
			assert.False(t, m.Timestamp.IsZero())
		case <-time.After(waitFor):
			t.Fatal("chat not delivered")
		}
	}
}

func standalone(t *testing.T, cfg Config) (*Coordinator, *fakeNet, *sentLog) {
	t.Helper()
	n := &fakeNet{owner: "a"}
	sent := &sentLog{}
	if cfg.Transports == nil {
		cfg.Transports = n
	}
	cfg.Signal = sent
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	c.Handle(wire.Welcome("a"))
	require.NoError(t, c.Join(context.Background(), room1, "Alice"))
	return c, n, sent
}

const room1 domain.RoomID = "r1"

func TestLateAnswerAfterClose(t *testing.T) {
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})

	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionOffer)) == 1 }, waitFor, tick)
	offer := sent.of(wire.EventSessionOffer)[0]
	assert.Equal(t, domain.ConnectionID("b"), offer.To)

	c.Handle(&wire.Message{Type: wire.EventUserDisconnected, RoomID: room1, ConnectionID: "b"})
	tr := only(t, n, "b")
	require.Eventually(t, func() bool { return tr.view().closes == 1 }, waitFor, tick)

	c.Handle(&wire.Message{
		Type:        wire.EventSessionAnswer,
		RoomID:      room1,
		From:        "b",
		Description: &domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "late"},
	})
	assert.Len(t, n.all(), 1)
	assert.Nil(t, tr.view().remoteDesc)
	assert.Equal(t, 1, tr.view().closes)
}

func TestIgnoresForeignNegotiation(t *testing.T) {
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "b", DisplayName: "Bob"})
	offer := &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"}

	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "a", Description: offer})
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", To: "c", Description: offer})
	c.Handle(&wire.Message{Type: wire.EventICECandidate, RoomID: room1, From: "z", Candidate: &domain.ICECandidate{Candidate: "c"}})
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, Description: offer})
	assert.Empty(t, n.all())

	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", To: "a", Description: offer})
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) == 1 }, waitFor, tick)
	answer := sent.of(wire.EventSessionAnswer)[0]
	assert.Equal(t, domain.ConnectionID("b"), answer.To)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Description.Type)
}

func TestEarlyCandidatesApplied(t *testing.T) {
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "b", DisplayName: "Bob"})

	for _, s := range []string{"c1", "c2"} {
		c.Handle(&wire.Message{Type: wire.EventICECandidate, RoomID: room1, From: "b", Candidate: &domain.ICECandidate{Candidate: s}})
	}
	c.Handle(&wire.Message{
		Type:        wire.EventSessionOffer,
		RoomID:      room1,
		From:        "b",
		Description: &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"},
	})
	c.Handle(&wire.Message{Type: wire.EventICECandidate, RoomID: room1, From: "b", Candidate: &domain.ICECandidate{Candidate: "c3"}})

	tr := only(t, n, "b")
	require.Eventually(t, func() bool { return len(tr.view().applied) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"c1", "c2", "c3"}, tr.view().applied)
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) == 1 }, waitFor, tick)
}

func TestNegotiationTimeout(t *testing.T) {
	c, n, sent := standalone(t, Config{NegotiationTimeout: 30 * time.Millisecond})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})

	tr := only(t, n, "b")
	require.Eventually(t, func() bool { return tr.view().closes == 1 }, waitFor, tick)
	assert.Len(t, sent.of(wire.EventSessionOffer), 1)
	require.Eventually(t, func() bool { return len(c.Peers()) == 0 }, waitFor, tick)
	assert.Equal(t, domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}, c.Roster())
}

func TestOfferFailureClosesSession(t *testing.T) {
	n := &fakeNet{owner: "a", failOffer: errors.New("no codecs")}
	c, _, sent := standalone(t, Config{Transports: n})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})

	tr := only(t, n, "b")
	require.Eventually(t, func() bool { return tr.view().closes == 1 }, waitFor, tick)
	assert.Empty(t, sent.of(wire.EventSessionOffer))
}

func TestRejoinAfterRemoteLeft(t *testing.T) {
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "b", DisplayName: "Bob"})
	offer := &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"}
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", Description: offer})
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) == 1 }, waitFor, tick)
	first := generationOf(c, "b")
	require.NotZero(t, first)

	c.Handle(&wire.Message{Type: wire.EventUserDisconnected, RoomID: room1, ConnectionID: "b"})
	c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "b", DisplayName: "Bob"})
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", Description: offer})

	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) == 2 }, waitFor, tick)
	ts := n.toward("b")
	require.Len(t, ts, 2)
	require.Eventually(t, func() bool { return ts[0].view().closes == 1 }, waitFor, tick)
	assert.Equal(t, 0, ts[1].view().closes)
	assert.Greater(t, generationOf(c, "b"), first, "a returning member gets a fresh generation")
}

func generationOf(c *Coordinator, id domain.ConnectionID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[id]; ok {
		return p.gen
	}
	return 0
}

func TestRendererAttachDetach(t *testing.T) {
	sink := NewTrackSink(nil)
	c, n, _ := standalone(t, Config{Renderer: sink})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})

	tr := only(t, n, "b")
	track := newFakeTrack("audio")
	tr.track(track)
	track.packets <- &rtp.Packet{Payload: []byte{1, 2, 3}}

	require.Eventually(t, func() bool {
		stats := sink.Stats()
		return len(stats) == 1 && stats[0].Packets == 1
	}, waitFor, tick)

	c.Handle(&wire.Message{Type: wire.EventUserDisconnected, RoomID: room1, ConnectionID: "b"})
	require.Eventually(t, func() bool { return len(sink.Stats()) == 0 }, waitFor, tick)
}

func TestOfferAfterLeaveIgnored(t *testing.T) {
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionOffer)) == 1 }, waitFor, tick)

	require.NoError(t, c.Leave(context.Background()))
	tr := only(t, n, "b")
	assert.Equal(t, 1, tr.view().closes)

	offer := &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"}
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", Description: offer})
	c.Handle(&wire.Message{Type: wire.EventICECandidate, RoomID: room1, From: "b", Candidate: &domain.ICECandidate{Candidate: "c"}})
	c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "b", DisplayName: "Bob"})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})

	assert.Len(t, n.all(), 1, "no transport after leave")
	assert.Empty(t, c.Peers())
	assert.Empty(t, c.Roster())
	assert.Equal(t, domain.RoomID(""), c.Room())
	assert.Never(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) > 0 }, 50*time.Millisecond, tick)
	assert.Len(t, sent.of(wire.EventLeaveRoom), 1)
}

func TestJoinSwitchDropsStaleRoom(t *testing.T) {
	const room2 domain.RoomID = "r2"
	c, n, sent := standalone(t, Config{})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionOffer)) == 1 }, waitFor, tick)

	require.NoError(t, c.Join(context.Background(), room2, "Alice"))
	assert.Equal(t, 1, only(t, n, "b").view().closes)
	assert.Empty(t, c.Peers())

	offer := &domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "o"}
	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room1, From: "b", Description: offer})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "d", DisplayName: "Dan"}}})
	assert.Len(t, n.toward("b"), 1)
	assert.Empty(t, n.toward("d"))

	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room2, Members: domain.Roster{{ConnectionID: "e", DisplayName: "Eve"}}})
	assert.Equal(t, room2, c.Room())
	assert.Equal(t, []domain.ConnectionID{"e"}, c.Roster().IDs())
	only(t, n, "e")

	c.Handle(&wire.Message{Type: wire.EventSessionOffer, RoomID: room2, From: "b", Description: offer})
	require.Eventually(t, func() bool { return len(sent.of(wire.EventSessionAnswer)) == 1 }, waitFor, tick)
	assert.Len(t, n.toward("b"), 2)
}

func TestTransportBuiltWithoutLock(t *testing.T) {
	g := newGatedNet("a")
	c, _, sent := standalone(t, Config{Transports: g})

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})
	}()
	select {
	case remote := <-g.entered:
		assert.Equal(t, domain.ConnectionID("b"), remote)
	case <-time.After(waitFor):
		t.Fatal("transport never requested")
	}

	free := make(chan struct{})
	go func() {
		defer close(free)
		_ = c.Peers()
		_ = c.Roster()
		c.Handle(&wire.Message{Type: wire.EventUserConnected, RoomID: room1, ConnectionID: "c", DisplayName: "Cat"})
	}()
	select {
	case <-free:
	case <-time.After(waitFor):
		t.Fatal("coordinator blocked while a transport is built")
	}

	require.NoError(t, c.Leave(context.Background()))
	close(g.release)
	select {
	case <-handled:
	case <-time.After(waitFor):
		t.Fatal("snapshot not handled")
	}

	tr := only(t, g.fakeNet, "b")
	assert.Equal(t, 1, tr.view().closes, "transport built for a room we left is discarded")
	assert.Equal(t, 0, tr.view().offers)
	assert.Empty(t, c.Peers())
	assert.Empty(t, sent.of(wire.EventSessionOffer))
}

func TestDetachWaitsForAttach(t *testing.T) {
	rend := newGatedRenderer()
	c, n, _ := standalone(t, Config{Renderer: rend})
	c.Handle(&wire.Message{Type: wire.EventRosterSnapshot, RoomID: room1, Members: domain.Roster{{ConnectionID: "b", DisplayName: "Bob"}}})
	tr := only(t, n, "b")

	go tr.track(newFakeTrack("audio"))
	select {
	case <-rend.entered:
	case <-time.After(waitFor):
		t.Fatal("track never attached")
	}

	c.Handle(&wire.Message{Type: wire.EventUserDisconnected, RoomID: room1, ConnectionID: "b"})
	require.Eventually(t, func() bool { return tr.view().closes == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(rend.seen()) > 0 }, 50*time.Millisecond, tick, "detach overtook attach")

	close(rend.release)
	require.Eventually(t, func() bool { return len(rend.seen()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"attach b", "detach b"}, rend.seen())

	tr.track(newFakeTrack("late"))
	assert.Equal(t, []string{"attach b", "detach b"}, rend.seen(), "track after close is ignored")
}

func TestParseInitiatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    InitiatePolicy
		wantErr bool
	}{
		{"", InitiateJoiner, false},
		{"joiner", InitiateJoiner, false},
		{"BOTH", InitiateBoth, false},
		{"random", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseInitiatePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
