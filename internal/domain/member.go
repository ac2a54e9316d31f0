package domain

// ConnectionID identifies one signaling channel for its whole lifetime.
// A reconnecting client gets a new one.
type ConnectionID string

// MemberDescriptor represents a participant's presence in a room.
// No transport or negotiation state here.
type MemberDescriptor struct {
	ConnectionID ConnectionID `json:"connectionId" msgpack:"connectionId"`
	DisplayName  string       `json:"displayName" msgpack:"displayName"`
}

// Roster is an ordered snapshot of a room's members, in join order.
type Roster []MemberDescriptor

// Contains reports whether id is listed in the roster.
func (r Roster) Contains(id ConnectionID) bool {
	for _, m := range r {
		if m.ConnectionID == id {
			return true
		}
	}
	return false
}

// IDs returns the connection ids in roster order.
func (r Roster) IDs() []ConnectionID {
	out := make([]ConnectionID, 0, len(r))
	for _, m := range r {
		out = append(out, m.ConnectionID)
	}
	return out
}
