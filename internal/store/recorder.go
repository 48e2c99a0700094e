package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
)

type eventKind int

const (
	eventStarted eventKind = iota
	eventEnded
	eventChat
)

type event struct {
	kind        eventKind
	sid         domain.SessionID
	broadcaster domain.ConnectionID
	at          time.Time
	chat        domain.ChatMessage
}

// Recorder writes lifecycle and chat events on its own goroutine. When the
// queue is full events are dropped with a warning.
type Recorder struct {
	store       *Store
	archiveChat bool
	events      chan event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(s *Store, buffer int, archiveChat bool) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		store:       s,
		archiveChat: archiveChat,
		events:      make(chan event, buffer),
		done:        make(chan struct{}),
	}
}

// Run drains the queue until Close is called and the queue is empty.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for ev := range r.events {
		r.write(ctx, ev)
	}
}

// Close stops accepting events and waits for Run to flush.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) SessionStarted(sid domain.SessionID, broadcaster domain.ConnectionID, at time.Time) {
	r.enqueue(event{kind: eventStarted, sid: sid, broadcaster: broadcaster, at: at})
}

func (r *Recorder) SessionEnded(sid domain.SessionID, at time.Time) {
	r.enqueue(event{kind: eventEnded, sid: sid, at: at})
}

func (r *Recorder) ChatSent(m domain.ChatMessage) {
	if !r.archiveChat {
		return
	}
	r.enqueue(event{kind: eventChat, sid: m.SessionID, chat: m})
}

func (r *Recorder) enqueue(ev event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		log.Warn().Str("module", "store").Str("sid", string(ev.sid)).Msg("recorder queue full, event dropped")
	}
}

func (r *Recorder) write(ctx context.Context, ev event) {
	var err error
	switch ev.kind {
	case eventStarted:
		err = r.store.MarkLive(ctx, ev.sid, string(ev.broadcaster), ev.at)
	case eventEnded:
		err = r.store.MarkEnded(ctx, ev.sid, ev.at)
	case eventChat:
		err = r.store.SaveChat(ctx, ev.chat)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "store").Str("sid", string(ev.sid)).Msg("record event")
	}
}
