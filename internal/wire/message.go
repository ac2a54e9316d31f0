// Package wire defines the signaling event contract shared by the relay and
// participants, and the codecs that put it on a WebSocket.
package wire

import (
	"time"

	"github.com/dkeye/meshcall/internal/domain"
)

type EventType string

const (
	EventWelcome          EventType = "welcome"
	EventJoinRoom         EventType = "join-room"
	EventLeaveRoom        EventType = "leave-room"
	EventRosterSnapshot   EventType = "roster-snapshot"
	EventUserConnected    EventType = "user-connected"
	EventUserDisconnected EventType = "user-disconnected"
	EventSessionOffer     EventType = "session-offer"
	EventSessionAnswer    EventType = "session-answer"
	EventICECandidate     EventType = "ice-candidate"
	EventSendMessage      EventType = "send-message"
	EventReceiveMessage   EventType = "receive-message"
	EventPing             EventType = "ping"
	EventPong             EventType = "pong"
	EventError            EventType = "error"
)

// Error codes carried by EventError.
const (
	ErrCodeBadPayload  = "bad_payload"
	ErrCodeNotInRoom   = "not_in_room"
	ErrCodeEmptyRoom   = "empty_room"
	ErrCodeInvalidName = "invalid_name"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeUnknownType = "unknown_type"
)

// Message is the single envelope for every event in both directions.
// Only the fields relevant to Type are set.
type Message struct {
	Type         EventType                  `json:"type" msgpack:"type"`
	RoomID       domain.RoomID              `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	DisplayName  string                     `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
	ConnectionID domain.ConnectionID        `json:"connectionId,omitempty" msgpack:"connectionId,omitempty"`
	From         domain.ConnectionID        `json:"from,omitempty" msgpack:"from,omitempty"`
	To           domain.ConnectionID        `json:"to,omitempty" msgpack:"to,omitempty"`
	Members      domain.Roster              `json:"members,omitempty" msgpack:"members,omitempty"`
	Description  *domain.SessionDescription `json:"description,omitempty" msgpack:"description,omitempty"`
	Candidate    *domain.ICECandidate       `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Text         string                     `json:"text,omitempty" msgpack:"text,omitempty"`
	Timestamp    *time.Time                 `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Error        string                     `json:"error,omitempty" msgpack:"error,omitempty"`
}

// IsNegotiation reports whether the event belongs to offer/answer/candidate
// exchange, the only kinds the relay forwards with a "from" field.
func (t EventType) IsNegotiation() bool {
	switch t {
	case EventSessionOffer, EventSessionAnswer, EventICECandidate:
		return true
	}
	return false
}

func Welcome(id domain.ConnectionID) *Message {
	return &Message{Type: EventWelcome, ConnectionID: id}
}

func ErrorEvent(code string) *Message {
	return &Message{Type: EventError, Error: code}
}

func Chat(msg domain.ChatMessage) *Message {
	ts := msg.Timestamp
	return &Message{
		Type:        EventReceiveMessage,
		RoomID:      msg.RoomID,
		DisplayName: msg.SenderDisplayName,
		Text:        msg.Text,
		Timestamp:   &ts,
	}
}

// ChatMessage converts a receive-message event back into its domain form.
func (m *Message) ChatMessage() domain.ChatMessage {
	out := domain.ChatMessage{
		RoomID:            m.RoomID,
		SenderDisplayName: m.DisplayName,
		Text:              m.Text,
	}
	if m.Timestamp != nil {
		out.Timestamp = *m.Timestamp
	}
	return out
}
