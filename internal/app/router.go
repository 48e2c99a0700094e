package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

// Router forwards negotiation payloads between a broadcaster and one of its
// viewers. The payload is opaque and is never inspected.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Route delivers data to `to` if both ends form a valid pair in the same live
// session. Anything else is dropped silently and SendTo stays zero.
func (rt *Router) Route(from, to domain.ConnectionID, kind domain.SignalKind, data json.RawMessage) PublishResult {
	frame := protocol.MustEncode(protocol.NewNegotiation(from, kind, data))

	r := rt.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	var res PublishResult
	if !r.pairedLocked(from, to) {
		log.Debug().Str("module", "app.router").Str("from", string(from)).Str("to", string(to)).Msg("negotiation dropped: not paired")
		return res
	}
	r.sendLocked(&res, to, frame)
	return res
}

func (r *Registry) pairedLocked(a, b domain.ConnectionID) bool {
	if a == b {
		return false
	}
	ca, ok := r.conns[a]
	if !ok {
		return false
	}
	cb, ok := r.conns[b]
	if !ok {
		return false
	}
	if ca.session == "" || ca.session != cb.session {
		return false
	}
	s, ok := r.sessions[ca.session]
	if !ok {
		return false
	}
	switch {
	case s.broadcaster == a:
		_, viewer := s.viewers[b]
		return viewer
	case s.broadcaster == b:
		_, viewer := s.viewers[a]
		return viewer
	}
	return false
}
