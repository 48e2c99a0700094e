package orch

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/domain"
)

// Recorder receives lifecycle and chat events for the catalog store.
// Implementations must not block.
type Recorder interface {
	SessionStarted(sid domain.SessionID, broadcaster domain.ConnectionID, at time.Time)
	SessionEnded(sid domain.SessionID, at time.Time)
	ChatSent(msg domain.ChatMessage)
}

// Orchestrator is the entry point adapters call. It runs registry operations,
// then applies the backpressure policy and recorder hooks once the registry
// lock is released.
type Orchestrator struct {
	Registry *app.Registry
	Router   *app.Router
	Chat     *app.ChatRelay
	Policy   app.Policy
	Recorder Recorder
}

func New(reg *app.Registry, policy app.Policy, rec Recorder) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Router:   app.NewRouter(reg),
		Chat:     app.NewChatRelay(reg),
		Policy:   policy,
		Recorder: rec,
	}
}

func (o *Orchestrator) apply(res app.PublishResult) {
	if res.Ended != "" && o.Recorder != nil {
		o.Recorder.SessionEnded(res.Ended, time.Now())
	}
	if o.Policy == nil {
		return
	}
	for _, cid := range res.Dropped {
		info, ok := o.Registry.Connection(cid)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(info) {
		case app.KickConnection:
			log.Warn().Str("module", "orch").Str("cid", string(cid)).Msg("kicking slow connection")
			o.Registry.Kick(cid)
		case app.NoAction:
		}
	}
}
