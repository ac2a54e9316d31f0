package domain

import "errors"

var ErrEmptyRoomID = errors.New("empty room id")

// RoomID is supplied by clients; the only constraint is that it is not empty.
type RoomID string

func (id RoomID) Validate() error {
	if id == "" {
		return ErrEmptyRoomID
	}
	return nil
}

// RoomInfo is a read-only view of a room for the REST API.
type RoomInfo struct {
	ID          RoomID `json:"id"`
	MemberCount int    `json:"memberCount"`
}
