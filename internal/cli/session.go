package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/mesh"
)

var (
	errQuit        = errors.New("quit")
	errReceiveOnly = errors.New("receive-only, nothing to mute (use --media silence)")
)

const helpText = `commands:
  /peers            show room members and session states
  /stats            show remote track counters
  /mute             mute or unmute your own audio
  /mute <id>        stop handling a member's media
  /unmute <id>      resume a member's media
  /join <room>      switch rooms
  /leave            leave the room
  /quit             leave and exit
anything else is sent as chat`

// localAudio is the participant's own published audio.
type localAudio interface {
	SetMuted(bool)
	Muted() bool
}

// session turns stdin lines into coordinator calls and prints the results.
type session struct {
	coord *mesh.Coordinator
	sink  *mesh.TrackSink
	audio localAudio
	name  string

	mu  sync.Mutex
	out io.Writer
}

func newSession(coord *mesh.Coordinator, sink *mesh.TrackSink, audio localAudio, name string, out io.Writer) *session {
	s := &session{coord: coord, sink: sink, audio: audio, name: name, out: out}
	coord.OnChat(func(m domain.ChatMessage) { s.println(formatChat(m)) })
	coord.OnRoster(func(room domain.RoomID, roster domain.Roster) { s.println(notice(formatRoster(room, roster))) })
	return s
}

func (s *session) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

func (s *session) render(fn func(io.Writer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.out)
}

// handleLine runs one line of input. It returns errQuit on /quit.
func (s *session) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.coord.SendChat(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		s.println(helpText)
	case "/peers":
		roster, states := s.coord.Roster(), s.coord.Peers()
		s.render(func(w io.Writer) { renderPeers(w, roster, states) })
	case "/stats":
		if s.sink == nil {
			return nil
		}
		stats := s.sink.Stats()
		s.render(func(w io.Writer) { renderStats(w, stats) })
	case "/mute", "/unmute":
		if arg == "" && cmd == "/mute" {
			return s.toggleMute()
		}
		if arg == "" || s.sink == nil {
			return fmt.Errorf("usage: %s <connection-id>", cmd)
		}
		s.sink.Mute(domain.ConnectionID(arg), cmd == "/mute")
	case "/join":
		if arg == "" {
			return fmt.Errorf("usage: /join <room>")
		}
		return s.coord.Join(ctx, domain.RoomID(arg), s.name)
	case "/leave":
		if s.coord.Room() == "" {
			return mesh.ErrNotJoined
		}
		if err := s.coord.Leave(ctx); err != nil {
			return err
		}
		s.println(notice("* left the room"))
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

// toggleMute flips the local audio and reports the new state.
func (s *session) toggleMute() error {
	if s.audio == nil {
		return errReceiveOnly
	}
	muted := !s.audio.Muted()
	s.audio.SetMuted(muted)
	if muted {
		s.println(notice("* your audio is muted"))
	} else {
		s.println(notice("* your audio is live"))
	}
	return nil
}
