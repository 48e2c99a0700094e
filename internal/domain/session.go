package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	SessionID    string
	ConnectionID string
)

// NewSessionID is used by the catalog; the relay never invents session ids.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewConnectionID names one transport endpoint (one browser tab).
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

type Role int

const (
	RoleUnassigned Role = iota
	RoleBroadcaster
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	default:
		return "unassigned"
	}
}

// Session is a read-only snapshot of a live broadcast.
type Session struct {
	ID          SessionID      `json:"sessionId"`
	Broadcaster ConnectionID   `json:"broadcasterConnectionId"`
	Viewers     []ConnectionID `json:"viewerConnectionIds"`
	IsLive      bool           `json:"isLive"`
	StartedAt   time.Time      `json:"startedAt"`
}

func (s Session) ViewerCount() int { return len(s.Viewers) }

// ConnectionInfo is a read-only view of one attached connection.
type ConnectionInfo struct {
	ID          ConnectionID `json:"connectionId"`
	DisplayName string       `json:"displayName"`
	Role        Role         `json:"-"`
	SessionID   SessionID    `json:"sessionId,omitempty"`
}
