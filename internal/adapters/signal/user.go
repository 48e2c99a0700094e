package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

func (ctl *SignalWSController) handleRename(
	cid domain.ConnectionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.RenameRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, protocol.CodeBadPayload, "malformed rename message")
		return
	}
	if err := ctl.Orch.Rename(cid, p.Name); err != nil {
		ctl.sendError(conn, protocol.CodeInvalidName, err.Error())
		return
	}
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(cid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(cid domain.ConnectionID, conn *WsSignalConn) {
	info, ok := ctl.Orch.WhoAmI(cid)
	if !ok {
		return
	}
	ctl.sendJSON(conn, protocol.WhoAmI{
		Type:         protocol.TypeWhoAmI,
		ConnectionID: info.ID,
		DisplayName:  info.DisplayName,
		Role:         info.Role.String(),
		SessionID:    info.SessionID,
	})
}
