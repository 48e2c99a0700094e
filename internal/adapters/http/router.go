package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/adapters/signal"
	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/config"
	"github.com/dkeye/rifthub/internal/store"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// RequestLogger logs each request through zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, st *store.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(RequestLogger())
	}
	r.Use(gin.Recovery())

	cookies := cookie.NewStore([]byte(cfg.Secret))
	// Secure cookies only where the server sits behind TLS
	cookies.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("RiftHubSessions", cookies))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	var catalog signal.Catalog
	if st != nil {
		catalog = st
	}
	ctrl := signal.NewSignalWSController(o, catalog, signal.Options{
		ReadLimit:        cfg.ReadLimit,
		PingPeriod:       cfg.PingPeriod,
		PongWait:         cfg.PongWait,
		WriteWait:        cfg.WriteWait,
		SendBuffer:       cfg.SendBuffer,
		ICEServers:       cfg.ICEServers(),
		RequireCatalog:   cfg.RequireCatalog,
		ChatRateLimit:    cfg.ChatRateLimit,
		ChatRateInterval: cfg.ChatRateInterval,
	})
	h := &handlers{cfg: cfg, orch: o, store: st}

	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/ice", h.ice)
	api.PUT("/profile", h.updateProfile)

	if st != nil {
		api.POST("/sessions", h.createSession)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.DELETE("/sessions/:id", h.deleteSession)
		api.GET("/sessions/:id/chat", h.chatHistory)
	} else {
		api.GET("/sessions", h.listLive)
	}

	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"live_sessions": len(h.orch.Registry.Sessions()),
		"connections":   h.orch.Registry.ConnectionCount(),
	})
}
