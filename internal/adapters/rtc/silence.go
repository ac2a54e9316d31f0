package rtc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Opus DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrame = 20 * time.Millisecond

// NewSilenceTrack creates an Opus track for participants without a capture
// device.
func NewSilenceTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
}

// Silence is the local audio source of a participant without a capture
// device. While muted no frames are written; the track stays negotiated.
type Silence struct {
	Track *webrtc.TrackLocalStaticSample

	muted  atomic.Bool
	frames atomic.Uint64
}

func NewSilence(streamID string) (*Silence, error) {
	track, err := NewSilenceTrack(streamID)
	if err != nil {
		return nil, err
	}
	return &Silence{Track: track}, nil
}

func (s *Silence) SetMuted(muted bool) {
	if s.muted.Swap(muted) != muted {
		log.Info().Str("module", "rtc").Bool("muted", muted).Msg("local audio")
	}
}

func (s *Silence) Muted() bool { return s.muted.Load() }

// Frames is the number of frames written so far.
func (s *Silence) Frames() uint64 { return s.frames.Load() }

// Play writes a silence frame every 20ms until ctx is done.
func (s *Silence) Play(ctx context.Context) {
	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.muted.Load() {
				continue
			}
			if err := s.Track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceFrame}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("silence write")
				return
			}
			s.frames.Add(1)
		}
	}
}
