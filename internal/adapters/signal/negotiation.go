package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

// handleNegotiation relays offers, answers and candidates. The data field is
// forwarded as received. Delivery failures are not reported to the sender.
func (ctl *SignalWSController) handleNegotiation(
	cid domain.ConnectionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.NegotiationRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad negotiation payload")
		ctl.sendError(conn, protocol.CodeBadPayload, "malformed negotiation message")
		return
	}
	kind, ok := domain.ParseSignalKind(p.Kind)
	if !ok || p.To == "" {
		ctl.sendError(conn, protocol.CodeBadPayload, "toConnectionId and kind required")
		return
	}
	if n := ctl.Orch.Route(cid, p.To, kind, p.Data); n == 0 {
		log.Debug().Str("module", "signal").Str("cid", string(cid)).Str("to", string(p.To)).Str("kind", string(kind)).Msg("negotiation not delivered")
	}
}
