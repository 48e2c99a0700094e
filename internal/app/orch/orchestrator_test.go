package orch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   int
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.sent++
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []domain.SessionID
	ended   []domain.SessionID
	chats   []domain.ChatMessage
}

func (r *fakeRecorder) SessionStarted(sid domain.SessionID, _ domain.ConnectionID, _ time.Time) {
	r.mu.Lock()
	r.started = append(r.started, sid)
	r.mu.Unlock()
}

func (r *fakeRecorder) SessionEnded(sid domain.SessionID, _ time.Time) {
	r.mu.Lock()
	r.ended = append(r.ended, sid)
	r.mu.Unlock()
}

func (r *fakeRecorder) ChatSent(m domain.ChatMessage) {
	r.mu.Lock()
	r.chats = append(r.chats, m)
	r.mu.Unlock()
}

func connect(t *testing.T, o *Orchestrator, id string) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	u, err := domain.NewUser(domain.UserID(id), id)
	if err != nil {
		t.Fatal(err)
	}
	o.Connect(domain.ConnectionID(id), c, u, nil)
	return c
}

func TestRecorderHooks(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(app.NewRegistry(), app.SimplePolicy{}, rec)
	connect(t, o, "A")
	connect(t, o, "B")

	if err := o.RegisterBroadcast("A", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := o.RegisterBroadcast("B", "s1"); err == nil {
		t.Fatal("duplicate register succeeded")
	}
	if _, err := o.JoinAsViewer("B", "s1"); err != nil {
		t.Fatal(err)
	}
	if !o.SendChat("B", "s1", "bob", "hi") {
		t.Fatal("chat rejected")
	}
	sid, err := o.EndBroadcast("A")
	if err != nil || sid != "s1" {
		t.Fatalf("end sid=%s err=%v", sid, err)
	}

	if len(rec.started) != 1 || len(rec.ended) != 1 || len(rec.chats) != 1 {
		t.Fatalf("recorder saw started=%v ended=%v chats=%d", rec.started, rec.ended, len(rec.chats))
	}
}

func TestSlowConnectionIsKicked(t *testing.T) {
	o := New(app.NewRegistry(), app.SimplePolicy{}, nil)
	a := connect(t, o, "A")
	connect(t, o, "B")
	o.RegisterBroadcast("A", "s1")
	a.full = true

	if _, err := o.JoinAsViewer("B", "s1"); err != nil {
		t.Fatal(err)
	}
	if !a.closed {
		t.Fatal("slow broadcaster not kicked")
	}
}

func TestTolerantPolicyKeepsViewers(t *testing.T) {
	o := New(app.NewRegistry(), app.TolerantPolicy{}, nil)
	connect(t, o, "A")
	b := connect(t, o, "B")
	o.RegisterBroadcast("A", "s1")
	o.JoinAsViewer("B", "s1")
	b.full = true

	if n := o.Route("A", "B", domain.SignalOffer, json.RawMessage(`{}`)); n != 0 {
		t.Fatalf("delivered to full queue: %d", n)
	}
	if b.closed {
		t.Fatal("viewer kicked under tolerant policy")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(app.NewRegistry(), app.SimplePolicy{}, rec)
	connect(t, o, "A")
	b := connect(t, o, "B")
	o.RegisterBroadcast("A", "s1")
	o.JoinAsViewer("B", "s1")
	before := b.sent

	o.OnDisconnect("A")
	o.OnDisconnect("A")

	if b.sent != before+1 {
		t.Fatalf("viewer got %d frames, want exactly one broadcast-ended", b.sent-before)
	}
	if len(rec.ended) != 1 {
		t.Fatalf("ended recorded %d times", len(rec.ended))
	}
	if o.Registry.ConnectionCount() != 1 {
		t.Fatalf("connections left: %d", o.Registry.ConnectionCount())
	}
}

func TestLeaveReportsSession(t *testing.T) {
	o := New(app.NewRegistry(), nil, nil)
	connect(t, o, "A")
	connect(t, o, "B")
	o.RegisterBroadcast("A", "s1")
	o.JoinAsViewer("B", "s1")

	if sid := o.Leave("B"); sid != "s1" {
		t.Fatalf("leave returned %q", sid)
	}
	if sid := o.Leave("B"); sid != "" {
		t.Fatalf("second leave returned %q", sid)
	}
	if !o.EvictSession("s1") || o.EvictSession("s1") {
		t.Fatal("evict should succeed exactly once")
	}
}

func TestEvictAll(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(app.NewRegistry(), nil, rec)
	connect(t, o, "A")
	connect(t, o, "B")
	o.RegisterBroadcast("A", "s1")
	o.RegisterBroadcast("B", "s2")

	if n := o.EvictAll(); n != 2 {
		t.Fatalf("evicted %d", n)
	}
	if len(o.Registry.Sessions()) != 0 || len(rec.ended) != 2 {
		t.Fatalf("sessions left=%d ended=%v", len(o.Registry.Sessions()), rec.ended)
	}
}
