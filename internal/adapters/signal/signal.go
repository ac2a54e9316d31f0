// Package signal serves the relay's WebSocket endpoint.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/app/relay"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Relay   *relay.Relay
	Limiter *JoinLimiter
	Opts    Options
}

func NewSignalWSController(r *relay.Relay, limiter *JoinLimiter, opts Options) *SignalWSController {
	return &SignalWSController{Relay: r, Limiter: limiter, Opts: opts}
}

// WsSignalConn is the relay's end of one participant's socket. Messages are
// encoded on Send and queued for the write pump.
type WsSignalConn struct {
	conn  *websocket.Conn
	codec wire.Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) Send(msg *wire.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

func (c *WsSignalConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the socket until either side
// goes away. defaultName is used for joins without a display name.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, defaultName string) {
	codec, err := wire.CodecByName(c.Query("codec"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	cid := domain.ConnectionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("codec", codec.Name()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan []byte, ctl.Opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Relay.Connect(cid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cid, conn, defaultName)
}
