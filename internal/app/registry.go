package app

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/domain"
)

var ErrDuplicateMember = errors.New("duplicate member")

// RoomRegistry maps room id -> ordered member list.
// It is mutated only by Join and Leave and holds no negotiation state.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]domain.MemberDescriptor
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID][]domain.MemberDescriptor)}
}

// Join appends the member and returns the roster as it was before the
// insertion, so the joiner never sees itself. A connection already present in
// the room is overwritten in place and ErrDuplicateMember is returned along
// with a valid roster.
func (r *RoomRegistry) Join(roomID domain.RoomID, cid domain.ConnectionID, displayName string) (domain.Roster, error) {
	if err := roomID.Validate(); err != nil {
		return nil, err
	}
	m := domain.MemberDescriptor{ConnectionID: cid, DisplayName: displayName}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	roster := make(domain.Roster, 0, len(members))
	for _, existing := range members {
		if existing.ConnectionID != cid {
			roster = append(roster, existing)
		}
	}

	if i := slices.IndexFunc(members, func(d domain.MemberDescriptor) bool { return d.ConnectionID == cid }); i >= 0 {
		members[i] = m
		log.Warn().Str("module", "app.registry").Str("room", string(roomID)).Str("cid", string(cid)).Msg("duplicate join, entry overwritten")
		return roster, ErrDuplicateMember
	}

	r.rooms[roomID] = append(members, m)
	if !exists {
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room created")
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("cid", string(cid)).Int("members", len(members)+1).Msg("member joined")
	return roster, nil
}

// Leave removes the connection from every room it appears in and returns the
// affected room ids. Rooms left empty are deleted.
func (r *RoomRegistry) Leave(cid domain.ConnectionID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []domain.RoomID
	for roomID, members := range r.rooms {
		kept := slices.DeleteFunc(members, func(d domain.MemberDescriptor) bool { return d.ConnectionID == cid })
		if len(kept) == len(members) {
			continue
		}
		affected = append(affected, roomID)
		if len(kept) == 0 {
			delete(r.rooms, roomID)
			log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room deleted")
			continue
		}
		r.rooms[roomID] = kept
	}
	if len(affected) > 1 {
		log.Warn().Str("module", "app.registry").Str("cid", string(cid)).Int("rooms", len(affected)).Msg("connection was in several rooms")
	}
	slices.Sort(affected)
	return affected
}

// Members returns a copy of the room's roster in join order.
func (r *RoomRegistry) Members(roomID domain.RoomID) domain.Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(domain.Roster(r.rooms[roomID]))
}

// RoomOf returns the room the connection is in.
func (r *RoomRegistry) RoomOf(cid domain.ConnectionID) (domain.RoomID, bool) {
	_, roomID, ok := r.lookup(cid)
	return roomID, ok
}

// Member returns the connection's descriptor and room.
func (r *RoomRegistry) Member(cid domain.ConnectionID) (domain.MemberDescriptor, domain.RoomID, bool) {
	return r.lookup(cid)
}

func (r *RoomRegistry) lookup(cid domain.ConnectionID) (domain.MemberDescriptor, domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for roomID, members := range r.rooms {
		for _, m := range members {
			if m.ConnectionID == cid {
				return m, roomID, true
			}
		}
	}
	return domain.MemberDescriptor{}, "", false
}

func (r *RoomRegistry) List() []domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, domain.RoomInfo{ID: id, MemberCount: len(members)})
	}
	slices.SortFunc(out, func(a, b domain.RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close drops every room. Called once at server shutdown.
func (r *RoomRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Info().Str("module", "app.registry").Int("rooms", len(r.rooms)).Msg("registry closed")
	r.rooms = make(map[domain.RoomID][]domain.MemberDescriptor)
}
