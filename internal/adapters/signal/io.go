package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cid domain.ConnectionID, c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("cid", string(cid)).Msg("writePump ctx done")
			ctl.flushAndClose(c)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("cid", string(cid)).Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump write error")
				c.Close()
				return
			}
		case <-tick:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("writePump ping error")
				c.Close()
				return
			}
		}
	}
}

// flushAndClose writes whatever is already queued, then a going-away close
// frame, and closes the socket so the read pump exits.
func (ctl *SignalWSController) flushAndClose(c *WsSignalConn) {
	defer c.Close()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait))
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (ctl *SignalWSController) readPump(ctx context.Context, cid domain.ConnectionID, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(cid)
		ctl.chat.Forget(cid)
		cancel()
		c.Close()
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	ctl.extendReadDeadline(c)
	c.conn.SetPongHandler(func(string) error {
		ctl.extendReadDeadline(c)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				logReadError(cid, err)
				return
			}
			ctl.extendReadDeadline(c)
			ctl.handleMessage(ctx, cid, c, data)
		}
	}
}

func (ctl *SignalWSController) extendReadDeadline(c *WsSignalConn) {
	if ctl.opts.PongWait <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
}

func logReadError(cid domain.ConnectionID, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
		!errors.Is(err, websocket.ErrCloseSent) {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
		return
	}
	log.Info().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("socket closed")
}

func (ctl *SignalWSController) handleMessage(ctx context.Context, cid domain.ConnectionID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad json")
		ctl.sendError(c, protocol.CodeBadPayload, "malformed message")
		return
	}

	switch env.Type {
	case protocol.TypeJoinBroadcaster:
		ctl.handleJoinBroadcaster(ctx, cid, c, data)
	case protocol.TypeJoinViewer:
		ctl.handleJoinViewer(cid, c, data)
	case protocol.TypeLeave:
		ctl.handleLeave(cid, c)
	case protocol.TypeEndBroadcast:
		ctl.handleEndBroadcast(cid, c)
	case protocol.TypeNegotiation:
		ctl.handleNegotiation(cid, c, data)
	case protocol.TypeChat:
		ctl.handleChat(cid, c, data)
	case protocol.TypeRename:
		ctl.handleRename(cid, c, data)
	case protocol.TypeWhoAmI:
		ctl.handleWhoAmI(cid, c)
	case protocol.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("cid", string(cid)).Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, protocol.CodeBadPayload, "unknown message type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	f, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(f)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code, message string) {
	ctl.sendJSON(c, protocol.NewError(code, message))
}

// sendRegistryError maps registry failures to error events.
func (ctl *SignalWSController) sendRegistryError(c *WsSignalConn, err error) {
	switch {
	case errors.Is(err, app.ErrAlreadyLive):
		ctl.sendError(c, protocol.CodeAlreadyLive, "session already live")
	case errors.Is(err, app.ErrNotLive):
		ctl.sendError(c, protocol.CodeNotLive, "stream not available")
	case errors.Is(err, app.ErrNotBroadcaster):
		ctl.sendError(c, protocol.CodeNotBroadcaster, "not the broadcaster of a live session")
	case errors.Is(err, app.ErrOwnSession):
		ctl.sendError(c, protocol.CodeOwnSession, "cannot watch your own broadcast")
	case errors.Is(err, app.ErrInvalidSession):
		ctl.sendError(c, protocol.CodeBadPayload, "sessionId required")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("registry error")
		ctl.sendError(c, protocol.CodeInternal, "internal error")
	}
}
