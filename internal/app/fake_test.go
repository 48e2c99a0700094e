package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
)

// fakeConn records frames. full makes every send fail with backpressure.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type msg struct {
	Type               string `json:"type"`
	SessionID          string `json:"sessionId"`
	ViewerConnectionID string `json:"viewerConnectionId"`
	FromConnectionID   string `json:"fromConnectionId"`
	Kind               string `json:"kind"`
	Data               json.RawMessage
	DisplayName        string `json:"displayName"`
	Text               string `json:"text"`
}

func (f *fakeConn) messages(t *testing.T) []msg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]msg, 0, len(f.frames))
	for _, fr := range f.frames {
		var m msg
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("bad frame %q: %v", fr, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) count(typ string, t *testing.T) int {
	n := 0
	for _, m := range f.messages(t) {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func attach(t *testing.T, r *Registry, id string) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	u, err := domain.NewUser(domain.UserID(id), id)
	if err != nil {
		t.Fatal(err)
	}
	r.Attach(domain.ConnectionID(id), c, u, nil)
	return c
}
