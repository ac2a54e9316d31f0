package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/dkeye/meshcall/internal/wire"
)

// peer is the actor owning one negotiation session. Every event for it,
// from signaling or from its transport, goes through the mailbox and is
// handled on the run goroutine.
type peer struct {
	c         *Coordinator
	remote    domain.ConnectionID
	gen       uint64
	transport core.MediaTransport
	machine   negotiation.Machine
	inbox     *mailbox
	timer     *time.Timer
	logger    zerolog.Logger

	// mediaMu orders Renderer.Attach against the Detach in shutdown.
	mediaMu  sync.Mutex
	detached bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPeer(c *Coordinator, self, remote domain.ConnectionID, generation uint64, transport core.MediaTransport) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		c:         c,
		remote:    remote,
		gen:       generation,
		transport: transport,
		machine:   negotiation.New(self, remote, generation),
		inbox:     newMailbox(),
		logger: log.With().
			Str("module", "mesh.peer").
			Str("peer", string(remote)).
			Uint64("gen", generation).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	transport.OnLocalCandidate(func(cand domain.ICECandidate) {
		p.deliver(negotiation.Event{Kind: negotiation.LocalCandidate, Candidate: &cand})
	})
	transport.OnStateChange(func(s core.TransportState) {
		p.logger.Debug().Str("transport", s.String()).Msg("transport state")
		switch {
		case s == core.TransportConnected:
			p.deliver(negotiation.Event{Kind: negotiation.TransportConnected})
		case s.Lost():
			p.deliver(negotiation.Event{Kind: negotiation.TransportLost})
		}
	})
	transport.OnTrack(func(track core.RemoteTrack) {
		if c.cfg.Renderer == nil {
			return
		}
		p.mediaMu.Lock()
		defer p.mediaMu.Unlock()
		if p.detached {
			p.logger.Debug().Str("track", track.ID()).Msg("track after close ignored")
			return
		}
		c.cfg.Renderer.Attach(remote, track)
	})
	return p
}

// deliver stamps ev with this session's generation and queues it.
func (p *peer) deliver(ev negotiation.Event) bool {
	ev.Generation = p.gen
	return p.inbox.push(ev)
}

func (p *peer) run() {
	defer close(p.done)
	for range p.inbox.wake {
		for _, ev := range p.inbox.drain() {
			p.handle(ev)
			if p.machine.State == negotiation.Closed {
				p.inbox.close()
				return
			}
		}
	}
}

func (p *peer) handle(ev negotiation.Event) {
	prev := p.machine.State
	next, acts := negotiation.Step(p.machine, ev)
	p.machine = next
	if next.State != prev {
		p.logger.Info().Str("from", prev.String()).Str("to", next.State.String()).Str("event", ev.Kind.String()).Msg("negotiation state")
		p.c.notifyState(p, next.State)
	}
	for _, a := range acts {
		if follow, ok := p.execute(a); ok {
			p.handle(follow)
			return
		}
	}
}

// execute runs one action. Async results are returned as a follow-up event
// and handled before anything else in the mailbox.
func (p *peer) execute(a negotiation.Action) (negotiation.Event, bool) {
	gen := p.gen
	switch a.Kind {
	case negotiation.CreateOffer:
		desc, err := p.transport.CreateOffer(p.ctx)
		if err != nil {
			return negotiation.Event{Kind: negotiation.Failure, Generation: gen, Err: err}, true
		}
		return negotiation.Event{Kind: negotiation.OfferCreated, Generation: gen, Description: &desc}, true

	case negotiation.CreateAnswer:
		desc, err := p.transport.CreateAnswer(p.ctx)
		if err != nil {
			return negotiation.Event{Kind: negotiation.Failure, Generation: gen, Err: err}, true
		}
		return negotiation.Event{Kind: negotiation.AnswerCreated, Generation: gen, Description: &desc}, true

	case negotiation.Rollback:
		if err := p.transport.Rollback(p.ctx); err != nil {
			return negotiation.Event{Kind: negotiation.Failure, Generation: gen, Err: err}, true
		}

	case negotiation.ApplyRemote:
		if err := p.transport.SetRemoteDescription(p.ctx, *a.Description); err != nil {
			return negotiation.Event{Kind: negotiation.Failure, Generation: gen, Err: err}, true
		}

	case negotiation.AddCandidate:
		if err := p.transport.AddICECandidate(*a.Candidate); err != nil {
			p.logger.Warn().Err(err).Msg("add candidate")
		}

	case negotiation.SendOffer:
		p.send(&wire.Message{Type: wire.EventSessionOffer, Description: a.Description})
	case negotiation.SendAnswer:
		p.send(&wire.Message{Type: wire.EventSessionAnswer, Description: a.Description})
	case negotiation.SendCandidate:
		p.send(&wire.Message{Type: wire.EventICECandidate, Candidate: a.Candidate})

	case negotiation.ArmTimeout:
		p.stopTimer()
		timer := a.Timer
		p.timer = time.AfterFunc(p.c.cfg.NegotiationTimeout, func() {
			p.deliver(negotiation.Event{Kind: negotiation.Timeout, Timer: timer})
		})
	case negotiation.StopTimeout:
		p.stopTimer()

	case negotiation.Close:
		p.shutdown(a.Reason)

	case negotiation.Drop:
		p.logger.Debug().Str("reason", a.Reason).Str("state", p.machine.State.String()).Msg("dropped")
	}
	return negotiation.Event{}, false
}

func (p *peer) send(msg *wire.Message) {
	msg.To = p.remote
	if err := p.c.cfg.Signal.Send(msg); err != nil {
		p.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("signal send")
	}
}

func (p *peer) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *peer) shutdown(reason string) {
	p.stopTimer()
	p.cancel()
	if err := p.transport.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("transport close")
	}
	p.mediaMu.Lock()
	p.detached = true
	if p.c.cfg.Renderer != nil {
		p.c.cfg.Renderer.Detach(p.remote)
	}
	p.mediaMu.Unlock()
	p.c.forget(p)
	p.logger.Info().Str("reason", reason).Msg("peer closed")
}
