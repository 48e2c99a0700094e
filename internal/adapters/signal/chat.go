package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

func (ctl *SignalWSController) handleChat(
	cid domain.ConnectionID,
	conn *WsSignalConn,
	data []byte,
) {
	if !ctl.chat.Allow(cid) {
		ctl.sendError(conn, protocol.CodeRateLimited, "slow down")
		return
	}
	var p protocol.ChatRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad chat payload")
		ctl.sendError(conn, protocol.CodeBadPayload, "malformed chat message")
		return
	}
	ctl.Orch.SendChat(cid, p.SessionID, p.DisplayName, p.Text)
}
