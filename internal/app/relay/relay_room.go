package relay

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

// Join adds cid to roomID, announces it to the room and replies with the
// roster snapshot. A connection already in another room leaves it first.
func (r *Relay) Join(cid domain.ConnectionID, roomID domain.RoomID, displayName string) {
	name, err := domain.NormalizeDisplayName(displayName)
	if err != nil {
		r.send(cid, wire.ErrorEvent(wire.ErrCodeInvalidName))
		return
	}
	if roomID.Validate() != nil {
		r.send(cid, wire.ErrorEvent(wire.ErrCodeEmptyRoom))
		return
	}

	if current, ok := r.Rooms.RoomOf(cid); ok && current != roomID {
		log.Info().Str("module", "relay").Str("cid", string(cid)).Str("from_room", string(current)).Msg("switching rooms")
		r.Leave(cid)
	}

	roster, err := r.Rooms.Join(roomID, cid, name)
	switch {
	case errors.Is(err, app.ErrDuplicateMember):
		log.Warn().Str("module", "relay").Str("cid", string(cid)).Str("room", string(roomID)).Msg("rejoin of a joined member")
	case err != nil:
		log.Error().Err(err).Str("module", "relay").Str("cid", string(cid)).Msg("join")
		r.send(cid, wire.ErrorEvent(wire.ErrCodeBadPayload))
		return
	}

	log.Info().Str("module", "relay").Str("cid", string(cid)).Str("room", string(roomID)).Str("name", name).Int("roster", len(roster)).Msg("join")

	r.broadcast(roster, cid, &wire.Message{
		Type:         wire.EventUserConnected,
		RoomID:       roomID,
		ConnectionID: cid,
		DisplayName:  name,
	})
	r.send(cid, &wire.Message{
		Type:    wire.EventRosterSnapshot,
		RoomID:  roomID,
		Members: roster,
	})
}

// Leave removes cid from its room(s) and tells the remaining members.
func (r *Relay) Leave(cid domain.ConnectionID) {
	for _, roomID := range r.Rooms.Leave(cid) {
		n := r.broadcast(r.Rooms.Members(roomID), cid, &wire.Message{
			Type:         wire.EventUserDisconnected,
			RoomID:       roomID,
			ConnectionID: cid,
		})
		log.Info().Str("module", "relay").Str("cid", string(cid)).Str("room", string(roomID)).Int("notified", n).Msg("leave")
	}
}
