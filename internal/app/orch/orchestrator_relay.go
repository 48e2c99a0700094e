package orch

import (
	"encoding/json"

	"github.com/dkeye/rifthub/internal/domain"
)

// Route forwards a negotiation payload and reports how many peers got it.
func (o *Orchestrator) Route(from, to domain.ConnectionID, kind domain.SignalKind, data json.RawMessage) int {
	res := o.Router.Route(from, to, kind, data)
	o.apply(res)
	return res.SendTo
}

// SendChat reports whether the line was accepted for fan-out.
func (o *Orchestrator) SendChat(from domain.ConnectionID, sid domain.SessionID, displayName, text string) bool {
	msg, res := o.Chat.BroadcastChat(from, sid, displayName, text)
	o.apply(res)
	if msg.ID == "" {
		return false
	}
	if o.Recorder != nil {
		o.Recorder.ChatSent(msg)
	}
	return true
}
