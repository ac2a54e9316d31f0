package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// Transport is a core.MediaTransport backed by one pion PeerConnection.
// Candidates trickle: descriptions are returned without waiting for
// gathering.
type Transport struct {
	pc     *webrtc.PeerConnection
	remote domain.ConnectionID

	closeOnce sync.Once
	closeErr  error
}

var _ core.MediaTransport = (*Transport)(nil)

func (t *Transport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return fromPion(offer), nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return fromPion(answer), nil
}

func (t *Transport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	return nil
}

func (t *Transport) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *Transport) AddICECandidate(c domain.ICECandidate) error {
	return t.pc.AddICECandidate(candidateToPion(c))
}

func (t *Transport) OnLocalCandidate(fn func(domain.ICECandidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(candidateFromPion(c.ToJSON()))
	})
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(t.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(stateFromPion(s))
	})
}

func (t *Transport) OnTrack(fn func(core.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(t.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(track)
	})
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
		if t.closeErr != nil {
			log.Error().Err(t.closeErr).Str("module", "rtc").Str("peer", string(t.remote)).Msg("close error")
			return
		}
		log.Info().Str("module", "rtc").Str("peer", string(t.remote)).Msg("closed")
	})
	return t.closeErr
}

// SignalingState is exposed for diagnostics and tests.
func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

func fromPion(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toPion(desc domain.SessionDescription) (webrtc.SessionDescription, error) {
	typ := webrtc.NewSDPType(desc.Type)
	if typ != webrtc.SDPTypeOffer && typ != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

func candidateToPion(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateFromPion(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func stateFromPion(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	}
	return core.TransportNew
}
