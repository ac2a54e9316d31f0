package app

import "github.com/dkeye/meshcall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropMessage
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(cid domain.ConnectionID) BackpressureAction
}

// SimplePolicy kicks slow members.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnectionID) BackpressureAction {
	return KickMember
}
