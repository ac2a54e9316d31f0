// Package mesh runs the participant side of a call: one negotiation session
// per remote member of the joined room, driven by relay events.
package mesh

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/dkeye/meshcall/internal/wire"
)

const DefaultNegotiationTimeout = 30 * time.Second

var (
	ErrClosed    = errors.New("coordinator closed")
	ErrNotJoined = errors.New("not in a room")
)

type Config struct {
	Signal     core.Signaler
	Transports core.TransportFactory
	// Renderer may be nil for a participant that ignores remote media.
	Renderer           Renderer
	Policy             InitiatePolicy
	NegotiationTimeout time.Duration
}

type Coordinator struct {
	cfg Config

	mu         sync.Mutex
	self       domain.ConnectionID
	room       domain.RoomID
	// target is the room we asked for. Room events from any other room are
	// stale and dropped; empty means not joined.
	target     domain.RoomID
	roster     domain.Roster
	peers      map[domain.ConnectionID]*peer
	states     map[domain.ConnectionID]negotiation.State
	generation uint64
	closed     bool

	onChat      func(domain.ChatMessage)
	onPeerState func(domain.ConnectionID, negotiation.State)
	onRoster    func(domain.RoomID, domain.Roster)

	readyOnce sync.Once
	ready     chan struct{}
}

func New(cfg Config) *Coordinator {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return &Coordinator{
		cfg:    cfg,
		peers:  make(map[domain.ConnectionID]*peer),
		states: make(map[domain.ConnectionID]negotiation.State),
		ready:  make(chan struct{}),
	}
}

func (c *Coordinator) OnChat(fn func(domain.ChatMessage)) {
	c.mu.Lock()
	c.onChat = fn
	c.mu.Unlock()
}

// OnPeerState is called from session goroutines on every state change.
func (c *Coordinator) OnPeerState(fn func(domain.ConnectionID, negotiation.State)) {
	c.mu.Lock()
	c.onPeerState = fn
	c.mu.Unlock()
}

func (c *Coordinator) OnRoster(fn func(domain.RoomID, domain.Roster)) {
	c.mu.Lock()
	c.onRoster = fn
	c.mu.Unlock()
}

// Self returns the id assigned by the relay, empty until welcome arrives.
func (c *Coordinator) Self() domain.ConnectionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Coordinator) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Roster returns the other members of the room in join order.
func (c *Coordinator) Roster() domain.Roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.roster)
}

// Peers returns the last known negotiation state per live session.
func (c *Coordinator) Peers() map[domain.ConnectionID]negotiation.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.ConnectionID]negotiation.State, len(c.peers))
	for id := range c.peers {
		out[id] = c.states[id]
	}
	return out
}

// WaitReady blocks until the relay has told us our connection id.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join asks the relay to put us in roomID. Sessions from a previous room are
// torn down first.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID, displayName string) error {
	if err := roomID.Validate(); err != nil {
		return err
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	previous := c.target
	c.target = roomID
	c.mu.Unlock()

	if previous != "" && previous != roomID {
		if err := c.teardownAll(ctx); err != nil {
			return err
		}
	}
	return c.cfg.Signal.Send(&wire.Message{Type: wire.EventJoinRoom, RoomID: roomID, DisplayName: displayName})
}

// Leave closes every session, waits for their transports to be released and
// then tells the relay.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.target = ""
	c.room = ""
	c.mu.Unlock()
	if err := c.teardownAll(ctx); err != nil {
		return err
	}
	return c.cfg.Signal.Send(&wire.Message{Type: wire.EventLeaveRoom})
}

func (c *Coordinator) SendChat(text string) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == "" {
		return ErrNotJoined
	}
	return c.cfg.Signal.Send(&wire.Message{Type: wire.EventSendMessage, Text: text})
}

// Close tears down every session and refuses new ones. The caller closes the
// signaling channel afterwards.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.teardownAll(ctx)
}

func (c *Coordinator) teardownAll(ctx context.Context) error {
	c.mu.Lock()
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	clear(c.peers)
	c.roster = nil
	c.mu.Unlock()

	if len(peers) == 0 {
		return nil
	}
	var wg conc.WaitGroup
	for _, p := range peers {
		wg.Go(func() {
			p.deliver(negotiation.Event{Kind: negotiation.Teardown})
			<-p.done
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("module", "mesh").Int("peers", len(peers)).Msg("all sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one event received from the relay.
func (c *Coordinator) Handle(msg *wire.Message) {
	switch msg.Type {
	case wire.EventWelcome:
		c.mu.Lock()
		c.self = msg.ConnectionID
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
		log.Info().Str("module", "mesh").Str("cid", string(msg.ConnectionID)).Msg("welcome")
	case wire.EventRosterSnapshot:
		c.onSnapshot(msg)
	case wire.EventUserConnected:
		c.onUserConnected(msg)
	case wire.EventUserDisconnected:
		c.onUserDisconnected(msg)
	case wire.EventSessionOffer, wire.EventSessionAnswer, wire.EventICECandidate:
		c.onNegotiation(msg)
	case wire.EventReceiveMessage:
		c.mu.Lock()
		fn := c.onChat
		c.mu.Unlock()
		if fn != nil {
			fn(msg.ChatMessage())
		}
	case wire.EventError:
		log.Warn().Str("module", "mesh").Str("code", msg.Error).Msg("relay error")
	case wire.EventPong:
	default:
		log.Debug().Str("module", "mesh").Str("type", string(msg.Type)).Msg("ignored event")
	}
}

func (c *Coordinator) onSnapshot(msg *wire.Message) {
	c.mu.Lock()
	if !c.acceptsLocked(msg.RoomID) {
		c.mu.Unlock()
		log.Debug().Str("module", "mesh").Str("room", string(msg.RoomID)).Msg("stale roster snapshot")
		return
	}
	c.room = msg.RoomID
	c.roster = slices.DeleteFunc(slices.Clone(msg.Members), func(m domain.MemberDescriptor) bool {
		return m.ConnectionID == c.self
	})
	room, roster, fn := c.room, slices.Clone(c.roster), c.onRoster
	c.mu.Unlock()

	log.Info().Str("module", "mesh").Str("room", string(room)).Int("members", len(roster)).Msg("roster snapshot")
	for _, m := range roster {
		if p := c.ensurePeer(m.ConnectionID, room); p != nil {
			p.deliver(negotiation.Event{Kind: negotiation.Initiate})
		}
	}
	if fn != nil {
		fn(room, roster)
	}
}

func (c *Coordinator) onUserConnected(msg *wire.Message) {
	id := msg.ConnectionID
	c.mu.Lock()
	if !c.acceptsLocked(msg.RoomID) || id == "" || id == c.self {
		c.mu.Unlock()
		return
	}
	m := domain.MemberDescriptor{ConnectionID: id, DisplayName: msg.DisplayName}
	if i := slices.IndexFunc(c.roster, func(d domain.MemberDescriptor) bool { return d.ConnectionID == id }); i >= 0 {
		c.roster[i] = m
	} else {
		c.roster = append(c.roster, m)
	}
	room, roster, fn := c.room, slices.Clone(c.roster), c.onRoster
	c.mu.Unlock()

	log.Info().Str("module", "mesh").Str("peer", string(id)).Str("name", msg.DisplayName).Msg("user connected")
	if c.cfg.Policy == InitiateBoth {
		if p := c.ensurePeer(id, msg.RoomID); p != nil {
			p.deliver(negotiation.Event{Kind: negotiation.Initiate})
		}
	}
	if fn != nil {
		fn(room, roster)
	}
}

func (c *Coordinator) onUserDisconnected(msg *wire.Message) {
	id := msg.ConnectionID
	c.mu.Lock()
	if msg.RoomID != c.target {
		c.mu.Unlock()
		return
	}
	c.roster = slices.DeleteFunc(c.roster, func(d domain.MemberDescriptor) bool { return d.ConnectionID == id })
	p := c.peers[id]
	delete(c.peers, id)
	room, roster, fn := c.room, slices.Clone(c.roster), c.onRoster
	c.mu.Unlock()

	log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("user disconnected")
	if p != nil {
		p.deliver(negotiation.Event{Kind: negotiation.RemoteLeft})
	}
	if fn != nil {
		fn(room, roster)
	}
}

func (c *Coordinator) onNegotiation(msg *wire.Message) {
	from := msg.From
	c.mu.Lock()
	self := c.self
	if from == "" || from == self || (msg.To != "" && msg.To != self) {
		c.mu.Unlock()
		log.Debug().Str("module", "mesh").Str("from", string(from)).Str("to", string(msg.To)).Str("type", string(msg.Type)).Msg("not for us")
		return
	}
	if !c.acceptsLocked(msg.RoomID) {
		c.mu.Unlock()
		log.Debug().Str("module", "mesh").Str("from", string(from)).Str("room", string(msg.RoomID)).Str("type", string(msg.Type)).Msg("not our room")
		return
	}
	// Offers may overtake the roster event that announces their sender, so
	// they always open a session. Candidates do so only for known members.
	p := c.livePeerLocked(from)
	opens := msg.Type == wire.EventSessionOffer ||
		(msg.Type == wire.EventICECandidate && c.roster.Contains(from))
	c.mu.Unlock()

	if p == nil && opens {
		p = c.ensurePeer(from, msg.RoomID)
	}
	if p == nil {
		log.Debug().Str("module", "mesh").Str("from", string(from)).Str("type", string(msg.Type)).Msg("no session for sender")
		return
	}
	ev := negotiation.Event{Description: msg.Description, Candidate: msg.Candidate}
	switch msg.Type {
	case wire.EventSessionOffer:
		ev.Kind = negotiation.RemoteOffer
	case wire.EventSessionAnswer:
		ev.Kind = negotiation.RemoteAnswer
	case wire.EventICECandidate:
		ev.Kind = negotiation.RemoteCandidate
	}
	p.deliver(ev)
}

// acceptsLocked reports whether events of room may touch sessions.
func (c *Coordinator) acceptsLocked(room domain.RoomID) bool {
	return !c.closed && c.target != "" && room == c.target
}

func (c *Coordinator) livePeerLocked(id domain.ConnectionID) *peer {
	if p, ok := c.peers[id]; ok && !p.inbox.isClosed() {
		return p
	}
	return nil
}

// ensurePeer returns the live session for id, creating one if room is still
// the one we are in. The transport is built without holding c.mu; if another
// caller won the race, or the room changed meanwhile, the new transport is
// closed again.
func (c *Coordinator) ensurePeer(id domain.ConnectionID, room domain.RoomID) *peer {
	c.mu.Lock()
	if p := c.livePeerLocked(id); p != nil {
		c.mu.Unlock()
		return p
	}
	if !c.acceptsLocked(room) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	t, err := c.cfg.Transports.NewTransport(id)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("create transport")
		return nil
	}

	c.mu.Lock()
	existing := c.livePeerLocked(id)
	if existing != nil || !c.acceptsLocked(room) {
		c.mu.Unlock()
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("discard transport")
		}
		return existing
	}
	c.generation++
	p := newPeer(c, c.self, id, c.generation, t)
	c.peers[id] = p
	c.states[id] = negotiation.Idle
	c.mu.Unlock()

	go p.run()
	return p
}

func (c *Coordinator) forget(p *peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers[p.remote] == p {
		delete(c.peers, p.remote)
	}
	if _, live := c.peers[p.remote]; !live {
		delete(c.states, p.remote)
	}
}

func (c *Coordinator) notifyState(p *peer, state negotiation.State) {
	c.mu.Lock()
	if c.peers[p.remote] == p && state != negotiation.Closed {
		c.states[p.remote] = state
	}
	fn := c.onPeerState
	c.mu.Unlock()
	if fn != nil {
		fn(p.remote, state)
	}
}
