package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

// Forward relays an offer, answer or candidate to the sender's room, stamped
// with the sender id. The payload is never inspected. With a "to" field the
// message goes to that member only; without one it goes to the whole room.
func (r *Relay) Forward(cid domain.ConnectionID, msg *wire.Message) {
	if !validNegotiation(msg) {
		log.Warn().Str("module", "relay").Str("cid", string(cid)).Str("type", string(msg.Type)).Msg("bad negotiation payload")
		r.send(cid, wire.ErrorEvent(wire.ErrCodeBadPayload))
		return
	}
	roomID, ok := r.Rooms.RoomOf(cid)
	if !ok {
		r.send(cid, wire.ErrorEvent(wire.ErrCodeNotInRoom))
		return
	}

	out := *msg
	out.From = cid
	out.RoomID = roomID
	members := r.Rooms.Members(roomID)

	if out.To == "" {
		n := r.broadcast(members, cid, &out)
		log.Debug().Str("module", "relay").Str("cid", string(cid)).Str("type", string(out.Type)).Int("sent_to", n).Msg("forward broadcast")
		return
	}
	if out.To == cid || !members.Contains(out.To) {
		log.Debug().Str("module", "relay").Str("cid", string(cid)).Str("to", string(out.To)).Str("type", string(out.Type)).Msg("target not in room, dropped")
		return
	}
	r.send(out.To, &out)
}

func validNegotiation(msg *wire.Message) bool {
	switch msg.Type {
	case wire.EventSessionOffer, wire.EventSessionAnswer:
		return msg.Description != nil
	case wire.EventICECandidate:
		return msg.Candidate != nil
	}
	return false
}

// Chat fans a text message out to the whole room, sender included.
func (r *Relay) Chat(cid domain.ConnectionID, text string) {
	if text == "" {
		return
	}
	m, roomID, ok := r.Rooms.Member(cid)
	if !ok {
		r.send(cid, wire.ErrorEvent(wire.ErrCodeNotInRoom))
		return
	}
	out := wire.Chat(domain.ChatMessage{
		RoomID:            roomID,
		SenderDisplayName: m.DisplayName,
		Text:              text,
		Timestamp:         r.now().UTC(),
	})
	r.broadcast(r.Rooms.Members(roomID), "", out)
}
