package core

import (
	"errors"

	"github.com/dkeye/meshcall/internal/wire"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts the relay's end of a signaling channel.
// Owned by the adapter; the adapter must Close() it.
// Send must never block: it either queues the message or fails.
//
//go:generate mockgen -destination=mocks/mock_signal.go -package=mocks . SignalConnection
type SignalConnection interface {
	Send(*wire.Message) error
	Close()
}

// Signaler is the participant's outbound half of the signaling channel.
type Signaler interface {
	Send(*wire.Message) error
}
