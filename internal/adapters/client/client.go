// Package client is the participant's end of the signaling WebSocket.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	codec    wire.Codec
	incoming chan *wire.Message
	outgoing chan *wire.Message
	done     chan struct{}

	closeOnce sync.Once
}

var _ core.Signaler = (*Client)(nil)

// Dial connects to url, which already carries the codec query.
func Dial(ctx context.Context, url string, codec wire.Codec, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		codec:    codec,
		incoming: make(chan *wire.Message, queueSize),
		outgoing: make(chan *wire.Message, queueSize),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "client").Str("url", url).Str("codec", codec.Name()).Msg("connected")
	return c, nil
}

// readPump decodes frames into Incoming until the socket fails.
func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "client").Msg("read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := c.codec.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			data, err := c.codec.Encode(msg)
			if err != nil {
				log.Error().Err(err).Str("module", "client").Msg("encode")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, so a leave sent right before Close
// reaches the relay.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.outgoing:
			data, err := c.codec.Encode(msg)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues msg for the write pump.
func (c *Client) Send(msg *wire.Message) error {
	select {
	case <-c.done:
		return core.ErrConnClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return core.ErrConnClosed
	}
}

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan *wire.Message {
	return c.incoming
}

// Run hands every incoming message to handle until the connection ends or
// ctx is done.
func (c *Client) Run(ctx context.Context, handle func(*wire.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.incoming:
			if !ok {
				return core.ErrConnClosed
			}
			handle(msg)
		}
	}
}

// Close sends a close frame and stops both pumps. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
