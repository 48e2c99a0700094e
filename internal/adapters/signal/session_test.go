package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
)

// scriptedCatalog answers SessionExists from a queue, repeating the last answer.
type scriptedCatalog struct {
	mu      sync.Mutex
	answers []bool
	calls   int
}

func (c *scriptedCatalog) SessionExists(context.Context, domain.SessionID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := min(c.calls, len(c.answers)-1)
	c.calls++
	return c.answers[i], nil
}

func newTestController(t *testing.T, catalog Catalog) (*SignalWSController, *WsSignalConn) {
	t.Helper()
	o := orch.New(app.NewRegistry(), app.SimplePolicy{}, nil)
	ctl := NewSignalWSController(o, catalog, Options{RequireCatalog: true})
	conn := &WsSignalConn{send: make(chan core.Frame, 8)}
	u, _ := domain.NewUser("u1", "host")
	o.Connect("b1", conn, u, nil)
	return ctl, conn
}

func drainTypes(t *testing.T, conn *WsSignalConn) []string {
	t.Helper()
	var out []string
	for {
		select {
		case f := <-conn.send:
			var env struct {
				Type string `json:"type"`
				Code string `json:"code"`
			}
			if err := json.Unmarshal(f, &env); err != nil {
				t.Fatal(err)
			}
			out = append(out, env.Type+":"+env.Code)
		default:
			return out
		}
	}
}

func TestJoinBroadcasterCatalogEndedDuringRegister(t *testing.T) {
	catalog := &scriptedCatalog{answers: []bool{true, false}}
	ctl, conn := newTestController(t, catalog)

	ctl.handleJoinBroadcaster(context.Background(), "b1", conn, []byte(`{"type":"join-as-broadcaster","sessionId":"s1"}`))

	if _, live := ctl.Orch.Registry.FindSession("s1"); live {
		t.Fatal("ended catalog session went live")
	}
	got := drainTypes(t, conn)
	if len(got) != 1 || got[0] != "error:unknown_session" {
		t.Fatalf("frames %v", got)
	}
	if info, _ := ctl.Orch.WhoAmI("b1"); info.Role != domain.RoleUnassigned {
		t.Fatalf("role %s after rollback", info.Role)
	}
}

func TestJoinBroadcasterCatalogOpen(t *testing.T) {
	catalog := &scriptedCatalog{answers: []bool{true}}
	ctl, conn := newTestController(t, catalog)

	ctl.handleJoinBroadcaster(context.Background(), "b1", conn, []byte(`{"type":"join-as-broadcaster","sessionId":"s1"}`))

	if _, live := ctl.Orch.Registry.FindSession("s1"); !live {
		t.Fatal("session not live")
	}
	if got := drainTypes(t, conn); len(got) != 1 || got[0] != "broadcast-started:" {
		t.Fatalf("frames %v", got)
	}
	if catalog.calls != 2 {
		t.Fatalf("catalog consulted %d times", catalog.calls)
	}
}
