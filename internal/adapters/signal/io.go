package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/app"
	"github.com/dkeye/signalrelay/internal/protocol"
)

func (ctl *SignalWSController) writePump(conn *app.Connection, c *WsSignalConn) {
	defer func() { _ = c.conn.Close() }()

	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("writePump write error")
			return
		}
	}
	if err := c.conn.WriteControl(websocket.CloseMessage, c.closeFrame(), time.Now().Add(c.writeWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("writePump close frame")
	}
	log.Debug().Str("module", "signal").Str("conn", string(conn.ID)).Msg("writePump done")
}

func (ctl *SignalWSController) readPump(ctx context.Context, conn *app.Connection, c *WsSignalConn) {
	reason := protocol.CloseNormal
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump closing")
		ctl.Gate.Close(conn, reason)
	}()

	if ctl.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	}
	c.conn.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				reason = protocol.CloseMessageTooBig
				log.Warn().Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump message too big")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump read error")
			default:
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(conn.ID)).Msg("readPump peer closed")
			}
			return
		}
		ctl.Gate.Dispatch(ctx, conn, data)
	}
}
