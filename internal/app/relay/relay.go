// Package relay routes signaling messages between the members of a room.
// It keeps no negotiation state: every decision is made from the room
// registry and the sender's connection id.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

type Relay struct {
	Rooms  *app.RoomRegistry
	Conns  *app.Connections
	Policy app.Policy

	now func() time.Time
}

func New(rooms *app.RoomRegistry, conns *app.Connections, policy app.Policy) *Relay {
	return &Relay{
		Rooms:  rooms,
		Conns:  conns,
		Policy: policy,
		now:    time.Now,
	}
}

// Connect binds a new signaling channel and tells the client its id.
func (r *Relay) Connect(cid domain.ConnectionID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.Conns.Bind(cid, sig, cancel)
	r.send(cid, wire.Welcome(cid))
}

// Disconnect is the implicit leave performed when a channel goes away.
func (r *Relay) Disconnect(cid domain.ConnectionID) {
	r.Leave(cid)
	r.Conns.Unbind(cid)
	log.Info().Str("module", "relay").Str("cid", string(cid)).Msg("disconnected")
}

// Dispatch handles one inbound message from cid.
func (r *Relay) Dispatch(cid domain.ConnectionID, msg *wire.Message) {
	switch msg.Type {
	case wire.EventJoinRoom:
		r.Join(cid, msg.RoomID, msg.DisplayName)
	case wire.EventLeaveRoom:
		r.Leave(cid)
	case wire.EventSessionOffer, wire.EventSessionAnswer, wire.EventICECandidate:
		r.Forward(cid, msg)
	case wire.EventSendMessage:
		r.Chat(cid, msg.Text)
	case wire.EventPing:
		r.send(cid, &wire.Message{Type: wire.EventPong})
	default:
		log.Warn().Str("module", "relay").Str("cid", string(cid)).Str("type", string(msg.Type)).Msg("unknown signal")
		r.send(cid, wire.ErrorEvent(wire.ErrCodeUnknownType))
	}
}

func (r *Relay) send(to domain.ConnectionID, msg *wire.Message) {
	sig, ok := r.Conns.Get(to)
	if !ok {
		log.Debug().Str("module", "relay").Str("cid", string(to)).Str("type", string(msg.Type)).Msg("send to unbound connection")
		return
	}
	err := sig.Send(msg)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "relay").Str("cid", string(to)).Msg("send failed")
		return
	}
	log.Warn().Str("module", "relay").Str("cid", string(to)).Str("type", string(msg.Type)).Msg("backpressure")
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(to) {
	case app.KickMember:
		r.Conns.Cancel(to)
	case app.DropMessage, app.NoAction:
	}
}

// broadcast sends msg to every member of roster except skip.
func (r *Relay) broadcast(roster domain.Roster, skip domain.ConnectionID, msg *wire.Message) int {
	sent := 0
	for _, m := range roster {
		if m.ConnectionID == skip {
			continue
		}
		r.send(m.ConnectionID, msg)
		sent++
	}
	return sent
}
