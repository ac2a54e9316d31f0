package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

type connEntry struct {
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Connections is the relay's table of live signaling channels.
type Connections struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*connEntry
}

func NewConnections() *Connections {
	return &Connections{conns: make(map[domain.ConnectionID]*connEntry)}
}

// Bind registers a channel. cancel tears the channel down and must make its
// read loop exit.
func (c *Connections) Bind(cid domain.ConnectionID, sig core.SignalConnection, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[cid] = &connEntry{Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.connections").Str("cid", string(cid)).Msg("bound signal")
}

func (c *Connections) Get(cid domain.ConnectionID) (core.SignalConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.conns[cid]; ok {
		return e.Signal, true
	}
	return nil, false
}

func (c *Connections) Unbind(cid domain.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, cid)
	log.Info().Str("module", "app.connections").Str("cid", string(cid)).Msg("unbind signal")
}

// Cancel asks the channel's owner to shut it down.
func (c *Connections) Cancel(cid domain.ConnectionID) bool {
	c.mu.RLock()
	e, ok := c.conns[cid]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.connections").Str("cid", string(cid)).Msg("canceled connection")
	return true
}

// CancelAll is used at shutdown.
func (c *Connections) CancelAll() {
	c.mu.RLock()
	entries := make([]*connEntry, 0, len(c.conns))
	for _, e := range c.conns {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}
