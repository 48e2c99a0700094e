package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dkeye/rifthub/internal/app"
	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/config"
	"github.com/dkeye/rifthub/internal/store"
)

type env struct {
	srv   *httptest.Server
	orch  *orch.Orchestrator
	store *store.Store
	stop  context.CancelFunc
}

func newEnv(t *testing.T, requireCatalog bool) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "rifthub.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Mode:             "test",
		Port:             8080,
		StaticPath:       t.TempDir(),
		Secret:           "test-secret",
		ReadLimit:        32768,
		PingPeriod:       time.Second,
		PongWait:         2 * time.Second,
		WriteWait:        time.Second,
		SendBuffer:       32,
		RequireCatalog:   requireCatalog,
		ChatRateLimit:    10,
		ChatRateInterval: time.Second,
		ICE:              []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := orch.New(app.NewRegistry(), app.SimplePolicy{}, nil)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, st))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		st.Close()
	})
	return &env{srv: srv, orch: o, store: st, stop: cancel}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
	name string
}

type frame map[string]any

func (e *env) dial(t *testing.T, jar http.CookieJar) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws/signal"
	d := websocket.Dialer{Jar: jar, HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &client{t: t, conn: conn}
	w := c.expect("welcome")
	c.id, _ = w["connectionId"].(string)
	c.name, _ = w["displayName"].(string)
	if c.id == "" {
		t.Fatalf("welcome without connectionId: %v", w)
	}
	if ice, _ := w["iceServers"].([]any); len(ice) != 1 {
		t.Fatalf("welcome without ice servers: %v", w)
	}
	return c
}

func (c *client) send(v frame) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) expect(typ string) frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f["type"] == typ {
			return f
		}
		if f["type"] == "error" && typ != "error" {
			c.t.Fatalf("waiting for %s, got error %v", typ, f)
		}
	}
}

func TestBroadcastFlow(t *testing.T) {
	e := newEnv(t, false)
	b := e.dial(t, nil)
	v1 := e.dial(t, nil)
	v2 := e.dial(t, nil)

	b.send(frame{"type": "join-as-broadcaster", "sessionId": "abc123"})
	b.expect("broadcast-started")

	v1.send(frame{"type": "join-as-viewer", "sessionId": "abc123"})
	joined := v1.expect("joined")
	if joined["broadcasterConnectionId"] != b.id {
		t.Fatalf("joined %v", joined)
	}
	if ready := b.expect("viewer-ready"); ready["viewerConnectionId"] != v1.id {
		t.Fatalf("viewer-ready %v", ready)
	}

	b.send(frame{"type": "negotiation-message", "toConnectionId": v1.id, "kind": "offer", "data": frame{"sdp": "o"}})
	offer := v1.expect("negotiation-message")
	if offer["fromConnectionId"] != b.id || offer["kind"] != "offer" {
		t.Fatalf("offer %v", offer)
	}
	if data, _ := offer["data"].(map[string]any); data["sdp"] != "o" {
		t.Fatalf("payload %v", offer["data"])
	}

	v1.send(frame{"type": "negotiation-message", "toConnectionId": b.id, "kind": "answer", "data": frame{"sdp": "a"}})
	if ans := b.expect("negotiation-message"); ans["fromConnectionId"] != v1.id {
		t.Fatalf("answer %v", ans)
	}

	v2.send(frame{"type": "join-as-viewer", "sessionId": "abc123"})
	v2.expect("joined")
	b.expect("viewer-ready")

	v1.send(frame{"type": "chat-message", "sessionId": "abc123", "displayName": "vee", "text": "hi all"})
	for _, c := range []*client{b, v1, v2} {
		if m := c.expect("chat-message"); m["text"] != "hi all" || m["displayName"] != "vee" {
			t.Fatalf("chat %v", m)
		}
	}

	b.send(frame{"type": "end-broadcast", "sessionId": "abc123"})
	b.expect("left")
	v1.expect("broadcast-ended")
	v2.expect("broadcast-ended")

	v4 := e.dial(t, nil)
	v4.send(frame{"type": "join-as-viewer", "sessionId": "abc123"})
	errFrame := v4.expect("error")
	if errFrame["code"] != "not_live" || errFrame["message"] != "stream not available" {
		t.Fatalf("error %v", errFrame)
	}
}

func TestBroadcasterDisconnectEndsSession(t *testing.T) {
	e := newEnv(t, false)
	b := e.dial(t, nil)
	v := e.dial(t, nil)

	b.send(frame{"type": "join-as-broadcaster", "sessionId": "s1"})
	b.expect("broadcast-started")
	v.send(frame{"type": "join-as-viewer", "sessionId": "s1"})
	v.expect("joined")

	b.conn.Close()
	v.expect("broadcast-ended")

	deadline := time.Now().Add(2 * time.Second)
	for e.orch.Registry.ConnectionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connections %d", e.orch.Registry.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSignalErrors(t *testing.T) {
	e := newEnv(t, false)
	a := e.dial(t, nil)
	b := e.dial(t, nil)

	a.send(frame{"type": "join-as-broadcaster", "sessionId": "dup"})
	a.expect("broadcast-started")
	b.send(frame{"type": "join-as-broadcaster", "sessionId": "dup"})
	if f := b.expect("error"); f["code"] != "already_live" {
		t.Fatalf("got %v", f)
	}
	a.send(frame{"type": "join-as-viewer", "sessionId": "dup"})
	if f := a.expect("error"); f["code"] != "own_session" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "end-broadcast"})
	if f := b.expect("error"); f["code"] != "not_broadcaster" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "join-as-viewer"})
	if f := b.expect("error"); f["code"] != "bad_payload" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "rename", "name": "   "})
	if f := b.expect("error"); f["code"] != "invalid_name" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "rename", "name": "bea"})
	if f := b.expect("whoami"); f["displayName"] != "bea" || f["role"] != "unassigned" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "ping"})
	b.expect("pong")
}

func TestRequireCatalog(t *testing.T) {
	e := newEnv(t, true)
	rec, err := e.store.CreateSession(context.Background(), "show", "host")
	if err != nil {
		t.Fatal(err)
	}
	b := e.dial(t, nil)

	b.send(frame{"type": "join-as-broadcaster", "sessionId": "made-up"})
	if f := b.expect("error"); f["code"] != "unknown_session" {
		t.Fatalf("got %v", f)
	}
	b.send(frame{"type": "join-as-broadcaster", "sessionId": string(rec.ID)})
	b.expect("broadcast-started")
}

func TestSessionsAPI(t *testing.T) {
	e := newEnv(t, false)

	body := bytes.NewBufferString(`{"title":"launch party","host":"ann"}`)
	resp, err := http.Post(e.srv.URL+"/api/sessions", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	var created SessionView
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" || created.Live {
		t.Fatalf("create status=%d body=%+v", resp.StatusCode, created)
	}

	b := e.dial(t, nil)
	v := e.dial(t, nil)
	b.send(frame{"type": "join-as-broadcaster", "sessionId": string(created.ID)})
	b.expect("broadcast-started")
	v.send(frame{"type": "join-as-viewer", "sessionId": string(created.ID)})
	v.expect("joined")

	resp, err = http.Get(e.srv.URL + "/api/sessions/" + string(created.ID))
	if err != nil {
		t.Fatal(err)
	}
	var got SessionView
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if !got.Live || got.ViewerCount != 1 || got.Title != "launch party" {
		t.Fatalf("get %+v", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, e.srv.URL+"/api/sessions/"+string(created.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	v.expect("broadcast-ended")
	b.expect("broadcast-ended")

	resp, err = http.Get(e.srv.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status %d", resp.StatusCode)
	}
}

func TestProfileNameReachesSocket(t *testing.T) {
	e := newEnv(t, false)
	jar, _ := cookiejar.New(nil)
	hc := &http.Client{Jar: jar}

	req, _ := http.NewRequest(http.MethodPut, e.srv.URL+"/api/profile", strings.NewReader(`{"displayName":"  zed  "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status %d", resp.StatusCode)
	}
	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "RiftHubSessions" {
			session = ck
		}
	}
	if session == nil {
		t.Fatal("profile response without session cookie")
	}
	if session.Secure || session.SameSite == http.SameSiteNoneMode {
		t.Fatalf("session cookie unusable over plain http: secure=%v samesite=%v", session.Secure, session.SameSite)
	}

	if c := e.dial(t, jar); c.name != "zed" {
		t.Fatalf("welcome name %q", c.name)
	}
	if c := e.dial(t, nil); c.name != "guest" {
		t.Fatalf("anonymous name %q", c.name)
	}
}

func TestHealthAndICE(t *testing.T) {
	e := newEnv(t, false)
	e.dial(t, nil)

	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "ok" || health.Connections != 1 {
		t.Fatalf("health %+v", health)
	}

	resp, err = http.Get(e.srv.URL + "/api/ice")
	if err != nil {
		t.Fatal(err)
	}
	var ice struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	json.NewDecoder(resp.Body).Decode(&ice)
	resp.Body.Close()
	if len(ice.ICEServers) != 1 || ice.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("ice %+v", ice)
	}
}

func TestShutdownFlushesBroadcastEnded(t *testing.T) {
	e := newEnv(t, false)
	b := e.dial(t, nil)
	v := e.dial(t, nil)

	b.send(frame{"type": "join-as-broadcaster", "sessionId": "s1"})
	b.expect("broadcast-started")
	v.send(frame{"type": "join-as-viewer", "sessionId": "s1"})
	v.expect("joined")
	b.expect("viewer-ready")

	if n := e.orch.EvictAll(); n != 1 {
		t.Fatalf("evicted %d", n)
	}
	e.stop()

	v.expect("broadcast-ended")
	b.expect("broadcast-ended")

	_ = v.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := v.conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("want going-away close, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.orch.Registry.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections %d after shutdown", e.orch.Registry.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
