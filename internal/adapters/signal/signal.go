package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/core"
	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/protocol"
)

// SessionDisplayNameKey is the cookie-session key holding the profile name.
const SessionDisplayNameKey = "display_name"

// Catalog answers whether a session id was issued and is still open.
type Catalog interface {
	SessionExists(ctx context.Context, sid domain.SessionID) (bool, error)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int

	ICEServers     []webrtc.ICEServer
	RequireCatalog bool

	ChatRateLimit    int
	ChatRateInterval time.Duration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Catalog Catalog

	opts Options
	chat *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, catalog Catalog, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		Catalog: catalog,
		opts:    opts,
		chat:    NewRateLimiter(opts.ChatRateLimit, opts.ChatRateInterval),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user := userFromContext(c)
	cid := domain.NewConnectionID()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("name", user.DisplayName).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctl.sendJSON(conn, protocol.Welcome{
		Type:         protocol.TypeWelcome,
		ConnectionID: cid,
		DisplayName:  user.DisplayName,
		ICEServers:   ctl.opts.ICEServers,
	})

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(cid, conn, user, cancel)

	go ctl.writePump(ctx, cid, conn)
	go ctl.readPump(ctx, cid, conn, cancel)
}

func userFromContext(c *gin.Context) *domain.User {
	uid := domain.UserID(c.GetString("client_token"))
	name, _ := sessions.Default(c).Get(SessionDisplayNameKey).(string)
	user, err := domain.NewUser(uid, name)
	if err != nil {
		user = &domain.User{ID: uid, DisplayName: domain.DefaultDisplayName}
	}
	return user
}
