package app

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

var (
	ErrAlreadyLive    = errors.New("session already live")
	ErrNotLive        = errors.New("session not live")
	ErrNotBroadcaster = errors.New("connection is not the session broadcaster")
	ErrNotAttached    = errors.New("connection not attached")
	ErrOwnSession     = errors.New("broadcaster cannot view its own session")
	ErrInvalidSession = errors.New("invalid session id")
)

// PublishResult reports delivery stats/backpressure to orchestrator.
// Ended is set when the operation terminated a live session.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnectionID
	Ended   domain.SessionID
}

func (p *PublishResult) merge(o PublishResult) {
	p.SendTo += o.SendTo
	p.Dropped = append(p.Dropped, o.Dropped...)
	if o.Ended != "" {
		p.Ended = o.Ended
	}
}

type connEntry struct {
	id      domain.ConnectionID
	signal  core.SignalConnection
	user    *domain.User
	role    domain.Role
	session domain.SessionID
	cancel  context.CancelFunc
}

type sessionEntry struct {
	id          domain.SessionID
	broadcaster domain.ConnectionID
	viewers     map[domain.ConnectionID]struct{}
	startedAt   time.Time
}

// Registry is the single source of truth for live sessions and attached
// connections. One mutex covers every lookup and mutation, and notifications
// are enqueued while it is held.
type Registry struct {
	mu       sync.Mutex
	conns    map[domain.ConnectionID]*connEntry
	sessions map[domain.SessionID]*sessionEntry
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[domain.ConnectionID]*connEntry),
		sessions: make(map[domain.SessionID]*sessionEntry),
		now:      time.Now,
	}
}

// Attach moves a connection from Unattached to Attached.
func (r *Registry) Attach(cid domain.ConnectionID, sig core.SignalConnection, user *domain.User, cancel context.CancelFunc) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res PublishResult
	if old, ok := r.conns[cid]; ok {
		res = r.leaveLocked(old)
	}
	r.conns[cid] = &connEntry{id: cid, signal: sig, user: user, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("name", user.DisplayName).Msg("attached connection")
	return res
}

// Detach releases whatever the connection held and forgets it. Safe to call
// more than once.
func (r *Registry) Detach(cid domain.ConnectionID) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return PublishResult{}
	}
	res := r.leaveLocked(c)
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("detached connection")
	return res
}

func (r *Registry) RegisterBroadcast(cid domain.ConnectionID, sid domain.SessionID) (PublishResult, error) {
	if sid == "" {
		return PublishResult{}, ErrInvalidSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return PublishResult{}, ErrNotAttached
	}
	if _, live := r.sessions[sid]; live {
		return PublishResult{}, ErrAlreadyLive
	}
	res := r.leaveLocked(c)
	r.sessions[sid] = &sessionEntry{
		id:          sid,
		broadcaster: cid,
		viewers:     make(map[domain.ConnectionID]struct{}),
		startedAt:   r.now(),
	}
	c.role = domain.RoleBroadcaster
	c.session = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("cid", string(cid)).Msg("broadcast registered")
	return res, nil
}

// JoinAsViewer returns the broadcaster the viewer must negotiate with.
// Joining the same session again re-sends viewer-ready so the pair can
// renegotiate.
func (r *Registry) JoinAsViewer(cid domain.ConnectionID, sid domain.SessionID) (domain.ConnectionID, PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return "", PublishResult{}, ErrNotAttached
	}
	s, live := r.sessions[sid]
	if !live {
		return "", PublishResult{}, ErrNotLive
	}
	if s.broadcaster == cid {
		return "", PublishResult{}, ErrOwnSession
	}
	var res PublishResult
	if c.session != sid {
		res = r.leaveLocked(c)
		s.viewers[cid] = struct{}{}
		c.role = domain.RoleViewer
		c.session = sid
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("cid", string(cid)).Int("viewers", len(s.viewers)).Msg("viewer joined")
	}
	r.sendLocked(&res, s.broadcaster, protocol.MustEncode(protocol.NewViewerReady(sid, cid)))
	return s.broadcaster, res, nil
}

// Leave is idempotent. A broadcaster leaving ends its session.
func (r *Registry) Leave(cid domain.ConnectionID) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return PublishResult{}
	}
	return r.leaveLocked(c)
}

func (r *Registry) EndBroadcast(cid domain.ConnectionID) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return PublishResult{}, ErrNotAttached
	}
	if c.role != domain.RoleBroadcaster {
		return PublishResult{}, ErrNotBroadcaster
	}
	s, ok := r.sessions[c.session]
	if !ok || s.broadcaster != cid {
		c.role, c.session = domain.RoleUnassigned, ""
		return PublishResult{}, ErrNotBroadcaster
	}
	return r.endLocked(s, false), nil
}

// Evict terminates a session on behalf of the catalog. The broadcaster is
// told as well as the viewers.
func (r *Registry) Evict(sid domain.SessionID) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return PublishResult{}, false
	}
	return r.endLocked(s, true), true
}

func (r *Registry) FindSession(sid domain.SessionID) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return domain.Session{}, false
	}
	return s.snapshot(), true
}

func (r *Registry) Sessions() []domain.Session {
	r.mu.Lock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Connection(cid domain.ConnectionID) (domain.ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return domain.ConnectionInfo{}, false
	}
	return domain.ConnectionInfo{
		ID:          c.id,
		DisplayName: c.user.DisplayName,
		Role:        c.role,
		SessionID:   c.session,
	}, true
}

func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) Rename(cid domain.ConnectionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[cid]
	if !ok {
		return ErrNotAttached
	}
	if err := c.user.SetDisplayName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("name", c.user.DisplayName).Msg("renamed connection")
	return nil
}

// Kick closes the connection's transport. The adapter's read loop then
// reports the disconnect, which does the registry cleanup.
func (r *Registry) Kick(cid domain.ConnectionID) bool {
	r.mu.Lock()
	c, ok := r.conns[cid]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.signal.Close()
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("kicked connection")
	return true
}

func (r *Registry) leaveLocked(c *connEntry) PublishResult {
	var res PublishResult
	if c.session == "" {
		return res
	}
	s, ok := r.sessions[c.session]
	if !ok {
		c.role, c.session = domain.RoleUnassigned, ""
		return res
	}
	switch {
	case s.broadcaster == c.id:
		return r.endLocked(s, false)
	default:
		delete(s.viewers, c.id)
		c.role, c.session = domain.RoleUnassigned, ""
		r.sendLocked(&res, s.broadcaster, protocol.MustEncode(protocol.NewViewerLeft(s.id, c.id)))
		log.Info().Str("module", "app.registry").Str("sid", string(s.id)).Str("cid", string(c.id)).Int("viewers", len(s.viewers)).Msg("viewer left")
	}
	return res
}

// endLocked notifies every viewer exactly once, revokes their association and
// removes the session.
func (r *Registry) endLocked(s *sessionEntry, notifyBroadcaster bool) PublishResult {
	res := PublishResult{Ended: s.id}
	ended := protocol.MustEncode(protocol.NewBroadcastEnded(s.id))
	for vid := range s.viewers {
		if v, ok := r.conns[vid]; ok {
			v.role, v.session = domain.RoleUnassigned, ""
		}
		r.sendLocked(&res, vid, ended)
	}
	if b, ok := r.conns[s.broadcaster]; ok {
		b.role, b.session = domain.RoleUnassigned, ""
		if notifyBroadcaster {
			r.sendLocked(&res, s.broadcaster, ended)
		}
	}
	delete(r.sessions, s.id)
	log.Info().Str("module", "app.registry").Str("sid", string(s.id)).Str("cid", string(s.broadcaster)).Int("viewers", len(s.viewers)).Msg("broadcast ended")
	return res
}

func (r *Registry) sendLocked(res *PublishResult, to domain.ConnectionID, f core.Frame) {
	c, ok := r.conns[to]
	if !ok {
		return
	}
	if err := c.signal.TrySend(f); err != nil {
		res.Dropped = append(res.Dropped, to)
		log.Debug().Err(err).Str("module", "app.registry").Str("cid", string(to)).Msg("send dropped")
		return
	}
	res.SendTo++
}

func (s *sessionEntry) snapshot() domain.Session {
	viewers := make([]domain.ConnectionID, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	slices.Sort(viewers)
	return domain.Session{
		ID:          s.id,
		Broadcaster: s.broadcaster,
		Viewers:     viewers,
		IsLive:      true,
		StartedAt:   s.startedAt,
	}
}
