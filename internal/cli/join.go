package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/meshcall/internal/adapters/client"
	"github.com/dkeye/meshcall/internal/adapters/rtc"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/mesh"
	"github.com/dkeye/meshcall/internal/wire"
)

const (
	mediaRecv    = "recv"
	mediaSilence = "silence"
)

var joinCmd = &cobra.Command{
	Use:   "join [room-id]",
	Short: "Join a room and stay in the call until interrupted",
	Long: `Join a room on the relay. Without a room id a new one is created.

Examples:
  meshcall join standup --name alice
  meshcall join --media silence --initiate both`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			peerViper.Set("room", args[0])
		}
		cfg, err := loadPeer(peerViper)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runJoin(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	fs := joinCmd.Flags()
	fs.String("room", "", "room id")
	fs.String("name", "", "display name shown to other members")
	fs.StringSlice("stun", rtc.DefaultICEServers, "ICE server urls")
	fs.Duration("negotiation-timeout", mesh.DefaultNegotiationTimeout, "give up on a session that does not connect in time")
	fs.String("initiate", "joiner", "who sends offers: joiner or both")
	fs.String("media", mediaRecv, "local media: recv or silence")
	cobra.CheckErr(config.BindPeerFlags(peerViper, fs))
}

// localTracks returns the tracks every session publishes and starts feeding
// them until ctx is done. The audio source is nil for a receive-only
// participant.
func localTracks(ctx context.Context, media string) ([]webrtc.TrackLocal, localAudio, error) {
	switch media {
	case "", mediaRecv:
		return nil, nil, nil
	case mediaSilence:
		src, err := rtc.NewSilence("meshcall")
		if err != nil {
			return nil, nil, err
		}
		go src.Play(ctx)
		return []webrtc.TrackLocal{src.Track}, src, nil
	}
	return nil, nil, fmt.Errorf("unknown media mode %q", media)
}

func runJoin(ctx context.Context, cfg *config.Peer, in io.Reader, out io.Writer) error {
	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	policy, err := mesh.ParseInitiatePolicy(cfg.Initiate)
	if err != nil {
		return err
	}

	room := domain.RoomID(cfg.Room)
	if room == "" {
		if room, err = newAPIClient(cfg.HTTPBase()).newRoom(ctx); err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		fmt.Fprintln(out, notice("* created room "+string(room)))
	}

	tracks, audio, err := localTracks(ctx, cfg.Media)
	if err != nil {
		return err
	}
	factory, err := rtc.NewFactory(rtc.FactoryConfig{
		ICEServers:    cfg.STUN,
		LoggerFactory: rtc.LoggerFactory{Base: log.Logger},
	}, tracks...)
	if err != nil {
		return err
	}

	conn, err := client.Dial(ctx, cfg.SignalURL(), codec, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink := mesh.NewTrackSink(nil)
	coord := mesh.New(mesh.Config{
		Signal:             conn,
		Transports:         factory,
		Renderer:           sink,
		Policy:             policy,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	sess := newSession(coord, sink, audio, cfg.Name, out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := conn.Run(ctx, coord.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("module", "cli").Msg("signaling ended")
			sess.println(failure("relay connection lost"))
		}
		cancel()
	}()

	if err := coord.Join(ctx, room, cfg.Name); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				// stdin closed, stay in the call until interrupted
				lines = nil
				continue
			}
			err := sess.handleLine(ctx, line)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				sess.println(failure(err.Error()))
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if coord.Room() != "" {
		if err := coord.Leave(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("module", "cli").Msg("leave")
		}
	}
	return coord.Close(shutdownCtx)
}
