package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const MaxChatTextLen = 500

var (
	ErrChatTextEmpty   = errors.New("chat text empty")
	ErrChatTextTooLong = errors.New("chat text too long")
)

type ChatMessage struct {
	ID          string       `json:"id"`
	SessionID   SessionID    `json:"sessionId"`
	Sender      ConnectionID `json:"-"`
	DisplayName string       `json:"displayName"`
	Text        string       `json:"text"`
	SentAt      time.Time    `json:"sentAt"`
}

func NewChatMessage(sid SessionID, sender ConnectionID, displayName, text string, at time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrChatTextEmpty
	}
	if utf8.RuneCountInString(text) > MaxChatTextLen {
		return ChatMessage{}, ErrChatTextTooLong
	}
	return ChatMessage{
		ID:          ulid.Make().String(),
		SessionID:   sid,
		Sender:      sender,
		DisplayName: displayName,
		Text:        text,
		SentAt:      at,
	}, nil
}
