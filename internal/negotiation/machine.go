package negotiation

import (
	"slices"

	"github.com/dkeye/meshcall/internal/domain"
)

// Machine is the negotiation state toward one remote participant. It is a
// value: Step returns an updated copy and never mutates its argument.
type Machine struct {
	Local  domain.ConnectionID
	Remote domain.ConnectionID
	State  State

	// Generation identifies this session. A remote id that reappears gets a
	// new machine with a higher generation.
	Generation uint64
	// Timer identifies the last armed timeout.
	Timer uint64

	LocalDescription  *domain.SessionDescription
	RemoteDescription *domain.SessionDescription
	OfferSent         bool

	// Early holds remote candidates received before a remote description.
	Early []domain.ICECandidate
}

func New(local, remote domain.ConnectionID, generation uint64) Machine {
	return Machine{Local: local, Remote: remote, State: Idle, Generation: generation}
}

// KeepsOffer reports whether the local side wins a glare tie-break: the
// smaller connection id keeps its offer.
func (m Machine) KeepsOffer() bool {
	return m.Local < m.Remote
}

func drop(m Machine, reason string) (Machine, []Action) {
	return m, []Action{{Kind: Drop, Reason: reason}}
}

// Step applies one event.
func Step(m Machine, ev Event) (Machine, []Action) {
	if m.State == Closed {
		return drop(m, "session closed")
	}
	if ev.Generation != m.Generation {
		return drop(m, "stale generation")
	}
	m.Early = slices.Clone(m.Early)

	switch ev.Kind {
	case Initiate:
		if m.State != Idle {
			return drop(m, "initiate while "+m.State.String())
		}
		m.State = Offering
		m.Timer++
		return m, []Action{{Kind: ArmTimeout, Timer: m.Timer}, {Kind: CreateOffer}}

	case OfferCreated:
		if m.State != Offering || m.OfferSent || ev.Description == nil {
			return drop(m, "offer created while "+m.State.String())
		}
		m.LocalDescription = ev.Description
		m.OfferSent = true
		return m, []Action{{Kind: SendOffer, Description: ev.Description}}

	case RemoteOffer:
		if ev.Description == nil {
			return drop(m, "offer without description")
		}
		switch m.State {
		case Idle:
			return answer(m, ev.Description, nil)
		case Offering:
			if m.KeepsOffer() {
				return drop(m, "glare, keeping local offer")
			}
			m.LocalDescription = nil
			m.OfferSent = false
			return answer(m, ev.Description, []Action{{Kind: Rollback}})
		}
		return drop(m, "offer while "+m.State.String())

	case AnswerCreated:
		if m.State != AnswerPending || ev.Description == nil {
			return drop(m, "answer created while "+m.State.String())
		}
		m.State = Connected
		m.LocalDescription = ev.Description
		return m, []Action{{Kind: SendAnswer, Description: ev.Description}, {Kind: StopTimeout}}

	case RemoteAnswer:
		if m.State != Offering || !m.OfferSent || ev.Description == nil {
			return drop(m, "answer while "+m.State.String())
		}
		m.State = Connected
		m.RemoteDescription = ev.Description
		acts := []Action{{Kind: ApplyRemote, Description: ev.Description}}
		acts = append(acts, flush(&m)...)
		return m, append(acts, Action{Kind: StopTimeout})

	case RemoteCandidate:
		if ev.Candidate == nil {
			return drop(m, "empty candidate")
		}
		if m.RemoteDescription != nil {
			return m, []Action{{Kind: AddCandidate, Candidate: ev.Candidate}}
		}
		m.Early = append(m.Early, *ev.Candidate)
		return m, nil

	case LocalCandidate:
		if m.State == Idle || ev.Candidate == nil {
			return drop(m, "local candidate while "+m.State.String())
		}
		return m, []Action{{Kind: SendCandidate, Candidate: ev.Candidate}}

	case TransportConnected:
		return m, nil

	case TransportLost, RemoteLeft, Teardown, Failure:
		reason := ev.Kind.String()
		if ev.Err != nil {
			reason += ": " + ev.Err.Error()
		}
		return closeMachine(m, reason, true)

	case Timeout:
		if ev.Timer != m.Timer || (m.State != Offering && m.State != AnswerPending) {
			return drop(m, "stale timeout")
		}
		return closeMachine(m, "negotiation timeout", false)
	}
	return drop(m, "unknown event "+ev.Kind.String())
}

func answer(m Machine, offer *domain.SessionDescription, prefix []Action) (Machine, []Action) {
	m.State = AnswerPending
	m.RemoteDescription = offer
	m.Timer++
	acts := append(prefix,
		Action{Kind: ArmTimeout, Timer: m.Timer},
		Action{Kind: ApplyRemote, Description: offer},
	)
	acts = append(acts, flush(&m)...)
	return m, append(acts, Action{Kind: CreateAnswer})
}

// flush drains queued candidates in arrival order.
func flush(m *Machine) []Action {
	if len(m.Early) == 0 {
		return nil
	}
	acts := make([]Action, 0, len(m.Early))
	for i := range m.Early {
		c := m.Early[i]
		acts = append(acts, Action{Kind: AddCandidate, Candidate: &c})
	}
	m.Early = nil
	return acts
}

func closeMachine(m Machine, reason string, stopTimer bool) (Machine, []Action) {
	m.State = Closed
	m.Early = nil
	var acts []Action
	if stopTimer {
		acts = append(acts, Action{Kind: StopTimeout})
	}
	return m, append(acts, Action{Kind: Close, Reason: reason})
}
