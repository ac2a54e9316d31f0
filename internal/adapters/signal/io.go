package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	cid domain.ConnectionID,
	c *WsSignalConn,
	defaultName string,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Relay.Disconnect(cid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(cid)
		}
	}()

	if ctl.Opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	}
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	}
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if ctx.Err() != nil {
			log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
			}
			return
		}
		_ = extend()
		ctl.handleFrame(cid, c, data, defaultName)
	}
}

func (ctl *SignalWSController) handleFrame(cid domain.ConnectionID, c *WsSignalConn, data []byte, defaultName string) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad payload")
		_ = c.Send(wire.ErrorEvent(wire.ErrCodeBadPayload))
		return
	}

	if msg.Type == wire.EventJoinRoom {
		if ctl.Limiter != nil && !ctl.Limiter.Allow(cid) {
			log.Warn().Str("module", "signal").Str("cid", string(cid)).Msg("join rate limited")
			_ = c.Send(wire.ErrorEvent(wire.ErrCodeRateLimited))
			return
		}
		if msg.DisplayName == "" {
			msg.DisplayName = defaultName
		}
	}
	ctl.Relay.Dispatch(cid, msg)
}
