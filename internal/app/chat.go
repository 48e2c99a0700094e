package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

// ChatRelay fans a chat line out to every participant of a live session,
// the sender included.
type ChatRelay struct {
	reg *Registry
	now func() time.Time
}

func NewChatRelay(reg *Registry) *ChatRelay {
	return &ChatRelay{reg: reg, now: time.Now}
}

// BroadcastChat returns the accepted message. A zero message (empty ID) means
// the line was dropped: sender not a participant of sid, or invalid text.
func (c *ChatRelay) BroadcastChat(from domain.ConnectionID, sid domain.SessionID, displayName, text string) (domain.ChatMessage, PublishResult) {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	var res PublishResult
	sender, ok := r.conns[from]
	if !ok || sid == "" || sender.session != sid {
		log.Debug().Str("module", "app.chat").Str("cid", string(from)).Str("sid", string(sid)).Msg("chat dropped: not a participant")
		return domain.ChatMessage{}, res
	}
	s, ok := r.sessions[sid]
	if !ok {
		return domain.ChatMessage{}, res
	}

	name, err := domain.NormalizeDisplayName(displayName)
	if err != nil {
		name = sender.user.DisplayName
	}
	msg, err := domain.NewChatMessage(sid, from, name, text, c.now())
	if err != nil {
		log.Debug().Err(err).Str("module", "app.chat").Str("cid", string(from)).Msg("chat dropped")
		return domain.ChatMessage{}, res
	}

	frame := protocol.MustEncode(protocol.NewChat(msg))
	r.sendLocked(&res, s.broadcaster, frame)
	for vid := range s.viewers {
		r.sendLocked(&res, vid, frame)
	}
	return msg, res
}
