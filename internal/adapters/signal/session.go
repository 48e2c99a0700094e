package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

func (ctl *SignalWSController) decodeSession(cid domain.ConnectionID, conn *WsSignalConn, data []byte) (domain.SessionID, bool) {
	var p protocol.SessionRequest
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad session payload")
		ctl.sendError(conn, protocol.CodeBadPayload, "sessionId required")
		return "", false
	}
	return p.SessionID, true
}

func (ctl *SignalWSController) handleJoinBroadcaster(
	ctx context.Context,
	cid domain.ConnectionID,
	conn *WsSignalConn,
	data []byte,
) {
	sid, ok := ctl.decodeSession(cid, conn, data)
	if !ok {
		return
	}
	checkCatalog := ctl.opts.RequireCatalog && ctl.Catalog != nil
	if checkCatalog && !ctl.catalogOpen(ctx, conn, sid) {
		return
	}

	if err := ctl.Orch.RegisterBroadcast(cid, sid); err != nil {
		log.Info().Err(err).Str("module", "signal").Str("cid", string(cid)).Str("sid", string(sid)).Msg("register rejected")
		ctl.sendRegistryError(conn, err)
		return
	}
	// The record may have been ended between the lookup and the register.
	// An eviction after this point finds the live session, so one more
	// lookup closes the gap.
	if checkCatalog && !ctl.catalogOpen(ctx, conn, sid) {
		_, _ = ctl.Orch.EndBroadcast(cid)
		log.Info().Str("module", "signal").Str("cid", string(cid)).Str("sid", string(sid)).Msg("catalog ended session during register")
		return
	}
	ctl.sendJSON(conn, protocol.SessionEvent{Type: protocol.TypeBroadcastStarted, SessionID: sid})
}

// catalogOpen reports the error to the client when sid may not go live.
func (ctl *SignalWSController) catalogOpen(ctx context.Context, conn *WsSignalConn, sid domain.SessionID) bool {
	exists, err := ctl.Catalog.SessionExists(ctx, sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("catalog lookup")
		ctl.sendError(conn, protocol.CodeInternal, "catalog unavailable")
		return false
	}
	if !exists {
		ctl.sendError(conn, protocol.CodeUnknownSession, "unknown session")
		return false
	}
	return true
}

func (ctl *SignalWSController) handleJoinViewer(
	cid domain.ConnectionID,
	conn *WsSignalConn,
	data []byte,
) {
	sid, ok := ctl.decodeSession(cid, conn, data)
	if !ok {
		return
	}
	broadcaster, err := ctl.Orch.JoinAsViewer(cid, sid)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("cid", string(cid)).Str("sid", string(sid)).Msg("join rejected")
		ctl.sendRegistryError(conn, err)
		return
	}
	ctl.sendJSON(conn, protocol.Joined{
		Type:                    protocol.TypeJoined,
		SessionID:               sid,
		BroadcasterConnectionID: broadcaster,
	})
}

// handleLeave drops the current role; the socket stays open.
func (ctl *SignalWSController) handleLeave(cid domain.ConnectionID, conn *WsSignalConn) {
	sid := ctl.Orch.Leave(cid)
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("sid", string(sid)).Msg("leave")
	ctl.sendJSON(conn, protocol.SessionEvent{Type: protocol.TypeLeft, SessionID: sid})
}

func (ctl *SignalWSController) handleEndBroadcast(cid domain.ConnectionID, conn *WsSignalConn) {
	sid, err := ctl.Orch.EndBroadcast(cid)
	if err != nil {
		ctl.sendRegistryError(conn, err)
		return
	}
	ctl.sendJSON(conn, protocol.SessionEvent{Type: protocol.TypeLeft, SessionID: sid})
}
