package mesh

import (
	"sync"

	"github.com/dkeye/meshcall/internal/negotiation"
)

// mailbox is an unbounded FIFO of negotiation events with a single reader.
// Producers never block.
type mailbox struct {
	mu     sync.Mutex
	queue  []negotiation.Event
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// push enqueues ev. It reports false once the mailbox is closed.
func (m *mailbox) push(ev negotiation.Event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// drain takes everything queued so far.
func (m *mailbox) drain() []negotiation.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
