package orch

import (
	"context"
	"time"

	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
)

func (o *Orchestrator) Connect(cid domain.ConnectionID, sig core.SignalConnection, user *domain.User, cancel context.CancelFunc) {
	o.apply(o.Registry.Attach(cid, sig, user, cancel))
}

func (o *Orchestrator) RegisterBroadcast(cid domain.ConnectionID, sid domain.SessionID) error {
	res, err := o.Registry.RegisterBroadcast(cid, sid)
	o.apply(res)
	if err != nil {
		return err
	}
	if o.Recorder != nil {
		o.Recorder.SessionStarted(sid, cid, time.Now())
	}
	return nil
}

// JoinAsViewer returns the broadcaster the viewer should expect an offer from.
func (o *Orchestrator) JoinAsViewer(cid domain.ConnectionID, sid domain.SessionID) (domain.ConnectionID, error) {
	broadcaster, res, err := o.Registry.JoinAsViewer(cid, sid)
	o.apply(res)
	return broadcaster, err
}

// Leave returns the session the connection was part of, or "".
func (o *Orchestrator) Leave(cid domain.ConnectionID) domain.SessionID {
	info, ok := o.Registry.Connection(cid)
	if !ok {
		return ""
	}
	o.apply(o.Registry.Leave(cid))
	return info.SessionID
}

func (o *Orchestrator) EndBroadcast(cid domain.ConnectionID) (domain.SessionID, error) {
	res, err := o.Registry.EndBroadcast(cid)
	o.apply(res)
	return res.Ended, err
}

// OnDisconnect is called by the transport when a socket goes away. Calling it
// twice is harmless.
func (o *Orchestrator) OnDisconnect(cid domain.ConnectionID) {
	o.apply(o.Registry.Detach(cid))
}

func (o *Orchestrator) EvictSession(sid domain.SessionID) bool {
	res, ok := o.Registry.Evict(sid)
	o.apply(res)
	return ok
}

func (o *Orchestrator) Rename(cid domain.ConnectionID, name string) error {
	return o.Registry.Rename(cid, name)
}

func (o *Orchestrator) WhoAmI(cid domain.ConnectionID) (domain.ConnectionInfo, bool) {
	return o.Registry.Connection(cid)
}

// EvictAll ends every live session. Used on shutdown so the catalog sees the
// sessions closed.
func (o *Orchestrator) EvictAll() int {
	n := 0
	for _, s := range o.Registry.Sessions() {
		if o.EvictSession(s.ID) {
			n++
		}
	}
	return n
}
