package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/relay"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

type fakeTransport struct {
	owner  string
	remote domain.ConnectionID

	mu         sync.Mutex
	localDesc  *domain.SessionDescription
	remoteDesc *domain.SessionDescription
	applied    []string
	offers     int
	rollbacks  int
	closes     int
	failOffer  error

	onCand  func(domain.ICECandidate)
	onState func(core.TransportState)
	onTrack func(core.RemoteTrack)
}

func (f *fakeTransport) CreateOffer(context.Context) (domain.SessionDescription, error) {
	f.mu.Lock()
	if f.failOffer != nil {
		f.mu.Unlock()
		return domain.SessionDescription{}, f.failOffer
	}
	f.offers++
	desc := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer %s>%s", f.owner, f.remote)}
	f.localDesc = &desc
	cb := f.onCand
	f.mu.Unlock()
	if cb != nil {
		cb(domain.ICECandidate{Candidate: "host-" + f.owner})
	}
	return desc, nil
}

func (f *fakeTransport) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	f.mu.Lock()
	if f.remoteDesc == nil || f.remoteDesc.Type != domain.SDPTypeOffer {
		f.mu.Unlock()
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	desc := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s>%s", f.owner, f.remote)}
	f.localDesc = &desc
	cand, state := f.onCand, f.onState
	f.mu.Unlock()
	if cand != nil {
		cand(domain.ICECandidate{Candidate: "host-" + f.owner})
	}
	if state != nil {
		state(core.TransportConnected)
	}
	return desc, nil
}

func (f *fakeTransport) SetRemoteDescription(_ context.Context, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc.Type == domain.SDPTypeAnswer && (f.localDesc == nil || f.localDesc.Type != domain.SDPTypeOffer) {
		return errors.New("answer without local offer")
	}
	f.remoteDesc = &desc
	return nil
}

func (f *fakeTransport) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = nil
	f.rollbacks++
	return nil
}

func (f *fakeTransport) AddICECandidate(c domain.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil {
		return errors.New("candidate before remote description")
	}
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(domain.ICECandidate)) {
	f.mu.Lock()
	f.onCand = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(core.TransportState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnTrack(fn func(core.RemoteTrack)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	state := f.onState
	f.mu.Unlock()
	if state != nil {
		state(core.TransportClosed)
	}
	return nil
}

type transportView struct {
	localDesc  *domain.SessionDescription
	remoteDesc *domain.SessionDescription
	applied    []string
	offers     int
	rollbacks  int
	closes     int
}

func (f *fakeTransport) view() transportView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transportView{
		localDesc:  f.localDesc,
		remoteDesc: f.remoteDesc,
		applied:    append([]string(nil), f.applied...),
		offers:     f.offers,
		rollbacks:  f.rollbacks,
		closes:     f.closes,
	}
}

func (f *fakeTransport) track(t core.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// fakeNet hands out fake transports and remembers them.
type fakeNet struct {
	owner     string
	failOffer error

	mu         sync.Mutex
	transports []*fakeTransport
}

func (n *fakeNet) NewTransport(remote domain.ConnectionID) (core.MediaTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &fakeTransport{owner: n.owner, remote: remote, failOffer: n.failOffer}
	n.transports = append(n.transports, t)
	return t, nil
}

func (n *fakeNet) all() []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.transports...)
}

func (n *fakeNet) toward(remote domain.ConnectionID) []*fakeTransport {
	var out []*fakeTransport
	for _, t := range n.all() {
		if t.remote == remote {
			out = append(out, t)
		}
	}
	return out
}

// sentLog is a Signaler that only records.
type sentLog struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (s *sentLog) Send(m *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *sentLog) of(t wire.EventType) []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Message
	for _, m := range s.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// participant wires a coordinator to an in-process relay.
type participant struct {
	cid   domain.ConnectionID
	coord *Coordinator
	net   *fakeNet
	relay *relay.Relay
	inbox chan *wire.Message
	ctx   context.Context
	stop  context.CancelFunc
}

// Send is the relay's side of the link.
func (p *participant) Send(m *wire.Message) error {
	cp := *m
	select {
	case p.inbox <- &cp:
		return nil
	case <-p.ctx.Done():
		return core.ErrConnClosed
	default:
		return core.ErrBackpressure
	}
}

func (p *participant) Close() {}

type uplink struct{ p *participant }

func (u uplink) Send(m *wire.Message) error {
	cp := *m
	u.p.relay.Dispatch(u.p.cid, &cp)
	return nil
}

func newRelay() *relay.Relay {
	return relay.New(app.NewRoomRegistry(), app.NewConnections(), app.SimplePolicy{})
}

func connect(t *testing.T, r *relay.Relay, cid domain.ConnectionID, policy InitiatePolicy) *participant {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := &participant{
		cid:   cid,
		net:   &fakeNet{owner: string(cid)},
		relay: r,
		inbox: make(chan *wire.Message, 256),
		ctx:   ctx,
		stop:  cancel,
	}
	p.coord = New(Config{
		Signal:     uplink{p},
		Transports: p.net,
		Policy:     policy,
	})
	go func() {
		for {
			select {
			case m := <-p.inbox:
				p.coord.Handle(m)
			case <-ctx.Done():
				return
			}
		}
	}()
	t.Cleanup(func() {
		_ = p.coord.Close(context.Background())
		cancel()
	})
	r.Connect(cid, p, cancel)
	return p
}

type fakeTrack struct {
	id      string
	packets chan *rtp.Packet
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) StreamID() string { return "stream-" + t.id }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

// gatedNet holds every NewTransport call until release is closed.
type gatedNet struct {
	*fakeNet
	entered chan domain.ConnectionID
	release chan struct{}
}

func newGatedNet(owner string) *gatedNet {
	return &gatedNet{
		fakeNet: &fakeNet{owner: owner},
		entered: make(chan domain.ConnectionID, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedNet) NewTransport(remote domain.ConnectionID) (core.MediaTransport, error) {
	g.entered <- remote
	<-g.release
	return g.fakeNet.NewTransport(remote)
}

// gatedRenderer records attach and detach calls in order. Attach waits for
// release.
type gatedRenderer struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	events []string
}

func newGatedRenderer() *gatedRenderer {
	return &gatedRenderer{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *gatedRenderer) Attach(remote domain.ConnectionID, _ core.RemoteTrack) {
	r.entered <- struct{}{}
	<-r.release
	r.record("attach " + string(remote))
}

func (r *gatedRenderer) Detach(remote domain.ConnectionID) {
	r.record("detach " + string(remote))
}

func (r *gatedRenderer) record(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *gatedRenderer) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
