// Package rtc adapts pion/webrtc to the participant's media transport.
package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

type FactoryConfig struct {
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
}

// Factory builds one PeerConnection per remote participant, all sharing the
// same local tracks. Without local tracks every transport is receive-only.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	tracks []webrtc.TrackLocal
}

var _ core.TransportFactory = (*Factory)(nil)

func NewFactory(cfg FactoryConfig, tracks ...webrtc.TrackLocal) (*Factory, error) {
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(ir),
		),
		config: webrtc.Configuration{ICEServers: servers},
		tracks: tracks,
	}, nil
}

func (f *Factory) NewTransport(remote domain.ConnectionID) (core.MediaTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &Transport{pc: pc, remote: remote}

	if len(f.tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				return nil, errors.Join(fmt.Errorf("add %s transceiver: %w", kind, err), t.Close())
			}
		}
		return t, nil
	}

	for _, track := range f.tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("add track %s: %w", track.ID(), err), t.Close())
		}
		go drainRTCP(sender, remote)
	}
	return t, nil
}

// drainRTCP keeps interceptors such as NACK running for a sender.
func drainRTCP(sender *webrtc.RTPSender, remote domain.ConnectionID) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("peer", string(remote)).Msg("rtcp reader stopped")
			return
		}
	}
}
