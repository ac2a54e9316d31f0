package domain

import "time"

// SessionDescription is an offer or answer. The relay forwards it untouched.
type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// ChatMessage is fanned out to a whole room, sender included.
type ChatMessage struct {
	RoomID            RoomID    `json:"roomId"`
	SenderDisplayName string    `json:"displayName"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
}
