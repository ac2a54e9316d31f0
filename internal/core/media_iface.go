package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/dkeye/meshcall/internal/domain"
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Lost reports whether the state ends the session.
// Disconnected is transient and may recover on its own.
func (s TransportState) Lost() bool {
	return s == TransportFailed || s == TransportClosed
}

// RemoteTrack is the part of an incoming media track the sink needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaTransport is the opaque real-time media capability one negotiation
// session drives. Callbacks may fire on any goroutine.
type MediaTransport interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer answers the applied remote offer and sets it locally.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	// Rollback discards a local offer that lost a glare tie-break.
	Rollback(ctx context.Context) error
	AddICECandidate(domain.ICECandidate) error

	OnLocalCandidate(func(domain.ICECandidate))
	OnStateChange(func(TransportState))
	OnTrack(func(RemoteTrack))

	// Close releases every underlying media resource. Safe to call twice.
	Close() error
}

// TransportFactory builds a fresh transport toward one remote participant.
type TransportFactory interface {
	NewTransport(remote domain.ConnectionID) (MediaTransport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(remote domain.ConnectionID) (MediaTransport, error)

func (f TransportFactoryFunc) NewTransport(remote domain.ConnectionID) (MediaTransport, error) {
	return f(remote)
}
