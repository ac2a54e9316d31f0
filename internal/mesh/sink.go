package mesh

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// Renderer consumes remote media. Detach must release everything attached
// for the remote.
type Renderer interface {
	Attach(remote domain.ConnectionID, track core.RemoteTrack)
	Detach(remote domain.ConnectionID)
}

type SinkState int32

const (
	SinkActive SinkState = iota
	SinkMuted
	SinkDetached
)

func (s SinkState) String() string {
	switch s {
	case SinkActive:
		return "active"
	case SinkMuted:
		return "muted"
	case SinkDetached:
		return "detached"
	}
	return "unknown"
}

// PacketHandler receives every RTP packet of an active track.
type PacketHandler func(remote domain.ConnectionID, trackID string, pkt *rtp.Packet)

type TrackStats struct {
	Remote  domain.ConnectionID
	TrackID string
	Packets uint64
	Bytes   uint64
	State   SinkState
}

type trackReader struct {
	remote  domain.ConnectionID
	track   core.RemoteTrack
	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
	cancel  context.CancelFunc
}

// loop reads RTP packets until the track ends or the reader is detached.
func (r *trackReader) loop(ctx context.Context, handler PacketHandler, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			r.state.Store(int32(SinkDetached))
			return
		default:
		}
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("track read ended")
			r.state.Store(int32(SinkDetached))
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(len(pkt.Payload)))
		if SinkState(r.state.Load()) == SinkActive && handler != nil {
			handler(r.remote, r.track.ID(), pkt)
		}
	}
}

// TrackSink is the default Renderer: it drains every remote track, keeps
// per-track counters and hands packets to an optional handler.
type TrackSink struct {
	handler PacketHandler

	mu      sync.RWMutex
	readers map[domain.ConnectionID][]*trackReader
}

func NewTrackSink(handler PacketHandler) *TrackSink {
	return &TrackSink{
		handler: handler,
		readers: make(map[domain.ConnectionID][]*trackReader),
	}
}

func (s *TrackSink) Attach(remote domain.ConnectionID, track core.RemoteTrack) {
	logger := log.With().
		Str("module", "mesh.sink").
		Str("peer", string(remote)).
		Str("track", track.ID()).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	r := &trackReader{remote: remote, track: track, cancel: cancel}

	s.mu.Lock()
	s.readers[remote] = append(s.readers[remote], r)
	s.mu.Unlock()

	logger.Info().Str("stream", track.StreamID()).Msg("track attached")
	go r.loop(ctx, s.handler, &logger)
}

func (s *TrackSink) Detach(remote domain.ConnectionID) {
	s.mu.Lock()
	readers := s.readers[remote]
	delete(s.readers, remote)
	s.mu.Unlock()

	for _, r := range readers {
		r.state.Store(int32(SinkDetached))
		r.cancel()
	}
	if len(readers) > 0 {
		log.Info().Str("module", "mesh.sink").Str("peer", string(remote)).Int("tracks", len(readers)).Msg("tracks detached")
	}
}

// Mute stops handing the remote's packets to the handler. Reading continues.
func (s *TrackSink) Mute(remote domain.ConnectionID, muted bool) {
	from, to := SinkMuted, SinkActive
	if muted {
		from, to = SinkActive, SinkMuted
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readers[remote] {
		r.state.CompareAndSwap(int32(from), int32(to))
	}
}

func (s *TrackSink) Stats() []TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TrackStats
	for remote, readers := range s.readers {
		for _, r := range readers {
			out = append(out, TrackStats{
				Remote:  remote,
				TrackID: r.track.ID(),
				Packets: r.packets.Load(),
				Bytes:   r.bytes.Load(),
				State:   SinkState(r.state.Load()),
			})
		}
	}
	slices.SortFunc(out, func(a, b TrackStats) int {
		return cmp.Or(cmp.Compare(a.Remote, b.Remote), cmp.Compare(a.TrackID, b.TrackID))
	})
	return out
}
