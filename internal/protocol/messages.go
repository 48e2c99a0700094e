// Package protocol defines the JSON messages exchanged on the signal socket.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
)

// Client -> server.
const (
	TypeJoinBroadcaster = "join-as-broadcaster"
	TypeJoinViewer      = "join-as-viewer"
	TypeLeave           = "leave"
	TypeEndBroadcast    = "end-broadcast"
	TypeNegotiation     = "negotiation-message"
	TypeChat            = "chat-message"
	TypeRename          = "rename"
	TypeWhoAmI          = "whoami"
	TypePing            = "ping"
)

// Server -> client. TypeNegotiation, TypeChat and TypeWhoAmI are shared.
const (
	TypeWelcome          = "welcome"
	TypeBroadcastStarted = "broadcast-started"
	TypeJoined           = "joined"
	TypeViewerReady      = "viewer-ready"
	TypeViewerLeft       = "viewer-left"
	TypeBroadcastEnded   = "broadcast-ended"
	TypeLeft             = "left"
	TypeError            = "error"
	TypePong             = "pong"
)

// Error codes carried by ErrorMessage.
const (
	CodeAlreadyLive    = "already_live"
	CodeNotLive        = "not_live"
	CodeNotBroadcaster = "not_broadcaster"
	CodeOwnSession     = "own_session"
	CodeUnknownSession = "unknown_session"
	CodeRateLimited    = "rate_limited"
	CodeBadPayload     = "bad_payload"
	CodeInvalidName    = "invalid_name"
	CodeInternal       = "internal"
)

type Envelope struct {
	Type string `json:"type"`
}

type SessionRequest struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type NegotiationRequest struct {
	Type string              `json:"type"`
	To   domain.ConnectionID `json:"toConnectionId"`
	Kind string              `json:"kind"`
	Data json.RawMessage     `json:"data"`
}

type ChatRequest struct {
	Type        string           `json:"type"`
	SessionID   domain.SessionID `json:"sessionId"`
	DisplayName string           `json:"displayName"`
	Text        string           `json:"text"`
}

type RenameRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type Welcome struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	DisplayName  string              `json:"displayName"`
	ICEServers   []webrtc.ICEServer  `json:"iceServers,omitempty"`
}

type SessionEvent struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type Joined struct {
	Type                    string              `json:"type"`
	SessionID               domain.SessionID    `json:"sessionId"`
	BroadcasterConnectionID domain.ConnectionID `json:"broadcasterConnectionId"`
}

// ViewerEvent is sent to a broadcaster: viewer-ready and viewer-left.
type ViewerEvent struct {
	Type               string              `json:"type"`
	SessionID          domain.SessionID    `json:"sessionId"`
	ViewerConnectionID domain.ConnectionID `json:"viewerConnectionId"`
}

type Negotiation struct {
	Type string              `json:"type"`
	From domain.ConnectionID `json:"fromConnectionId"`
	Kind domain.SignalKind   `json:"kind"`
	Data json.RawMessage     `json:"data"`
}

type Chat struct {
	Type        string           `json:"type"`
	ID          string           `json:"id"`
	SessionID   domain.SessionID `json:"sessionId"`
	DisplayName string           `json:"displayName"`
	Text        string           `json:"text"`
	SentAt      time.Time        `json:"sentAt"`
}

type WhoAmI struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	DisplayName  string              `json:"displayName"`
	Role         string              `json:"role"`
	SessionID    domain.SessionID    `json:"sessionId,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewViewerReady(sid domain.SessionID, viewer domain.ConnectionID) ViewerEvent {
	return ViewerEvent{Type: TypeViewerReady, SessionID: sid, ViewerConnectionID: viewer}
}

func NewViewerLeft(sid domain.SessionID, viewer domain.ConnectionID) ViewerEvent {
	return ViewerEvent{Type: TypeViewerLeft, SessionID: sid, ViewerConnectionID: viewer}
}

func NewBroadcastEnded(sid domain.SessionID) SessionEvent {
	return SessionEvent{Type: TypeBroadcastEnded, SessionID: sid}
}

func NewNegotiation(from domain.ConnectionID, kind domain.SignalKind, data json.RawMessage) Negotiation {
	return Negotiation{Type: TypeNegotiation, From: from, Kind: kind, Data: data}
}

func NewChat(m domain.ChatMessage) Chat {
	return Chat{
		Type:        TypeChat,
		ID:          m.ID,
		SessionID:   m.SessionID,
		DisplayName: m.DisplayName,
		Text:        m.Text,
		SentAt:      m.SentAt,
	}
}

func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// Encode marshals v into a frame ready for SignalConnection.TrySend.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// MustEncode is for the fixed message types above, which always marshal.
func MustEncode(v any) core.Frame {
	f, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return f
}
