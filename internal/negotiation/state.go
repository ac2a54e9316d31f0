// Package negotiation holds the per-peer offer/answer state machine.
//
// Step is a pure function: it takes the machine and one event and returns the
// next machine plus the actions the caller must execute, in order. It never
// touches the network or a media transport, so it can be tested exhaustively.
package negotiation

import (
	"fmt"

	"github.com/dkeye/meshcall/internal/domain"
)

type State int

const (
	Idle State = iota
	Offering
	AnswerPending
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AnswerPending:
		return "answer-pending"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type EventKind int

const (
	Initiate EventKind = iota
	OfferCreated
	AnswerCreated
	RemoteOffer
	RemoteAnswer
	RemoteCandidate
	LocalCandidate
	TransportConnected
	TransportLost
	RemoteLeft
	Teardown
	Timeout
	Failure
)

var eventNames = [...]string{
	Initiate:           "initiate",
	OfferCreated:       "offer-created",
	AnswerCreated:      "answer-created",
	RemoteOffer:        "remote-offer",
	RemoteAnswer:       "remote-answer",
	RemoteCandidate:    "remote-candidate",
	LocalCandidate:     "local-candidate",
	TransportConnected: "transport-connected",
	TransportLost:      "transport-lost",
	RemoteLeft:         "remote-left",
	Teardown:           "teardown",
	Timeout:            "timeout",
	Failure:            "failure",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input to Step. Timer is only read for Timeout events.
type Event struct {
	Kind        EventKind
	// Generation must match the machine's or the event is dropped. mesh
	// gives each session its own mailbox and stamps the session's generation
	// on delivery, so there it only catches an event routed to the wrong
	// machine. A reappearing remote always gets a higher generation.
	Generation  uint64
	Timer       uint64
	Description *domain.SessionDescription
	Candidate   *domain.ICECandidate
	Err         error
}

type ActionKind int

const (
	CreateOffer ActionKind = iota
	SendOffer
	Rollback
	ApplyRemote
	AddCandidate
	CreateAnswer
	SendAnswer
	SendCandidate
	ArmTimeout
	StopTimeout
	Close
	Drop
)

var actionNames = [...]string{
	CreateOffer:   "create-offer",
	SendOffer:     "send-offer",
	Rollback:      "rollback",
	ApplyRemote:   "apply-remote",
	AddCandidate:  "add-candidate",
	CreateAnswer:  "create-answer",
	SendAnswer:    "send-answer",
	SendCandidate: "send-candidate",
	ArmTimeout:    "arm-timeout",
	StopTimeout:   "stop-timeout",
	Close:         "close",
	Drop:          "drop",
}

func (k ActionKind) String() string {
	if int(k) >= 0 && int(k) < len(actionNames) {
		return actionNames[k]
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is one instruction for the executor. Reason is set for Drop and
// Close, Timer for ArmTimeout.
type Action struct {
	Kind        ActionKind
	Description *domain.SessionDescription
	Candidate   *domain.ICECandidate
	Timer       uint64
	Reason      string
}
