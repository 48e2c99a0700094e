package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/adapters/signal"
	"github.com/dkeye/rifthub/internal/app/orch"
	"github.com/dkeye/rifthub/internal/config"
	"github.com/dkeye/rifthub/internal/domain"
	"github.com/dkeye/rifthub/internal/store"
)

const (
	maxTitleLen  = 120
	defaultLimit = 50
	maxLimit     = 200
)

type handlers struct {
	cfg   *config.Config
	orch  *orch.Orchestrator
	store *store.Store
}

// SessionView is a catalog record merged with the live registry state.
type SessionView struct {
	store.SessionRecord
	Live        bool                `json:"live"`
	Broadcaster domain.ConnectionID `json:"broadcasterConnectionId,omitempty"`
	ViewerCount int                 `json:"viewerCount"`
}

func (h *handlers) view(rec store.SessionRecord) SessionView {
	v := SessionView{SessionRecord: rec}
	if s, ok := h.orch.Registry.FindSession(rec.ID); ok {
		v.Live = true
		v.Broadcaster = s.Broadcaster
		v.ViewerCount = s.ViewerCount()
	}
	return v
}

func liveView(s domain.Session) SessionView {
	started := s.StartedAt
	return SessionView{
		SessionRecord: store.SessionRecord{ID: s.ID, CreatedAt: s.StartedAt, StartedAt: &started},
		Live:          true,
		Broadcaster:   s.Broadcaster,
		ViewerCount:   s.ViewerCount(),
	}
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || n < 1 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

// POST /api/sessions
func (h *handlers) createSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
		Host  string `json:"host"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || utf8.RuneCountInString(req.Title) > maxTitleLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session"})
		return
	}
	rec, err := h.store.CreateSession(c.Request.Context(), req.Title, req.Host)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(rec.ID)).Str("title", rec.Title).Msg("session created")
	c.JSON(http.StatusCreated, h.view(rec))
}

// GET /api/sessions
func (h *handlers) listSessions(c *gin.Context) {
	recs, err := h.store.ListSessions(c.Request.Context(), queryLimit(c))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	out := make([]SessionView, 0, len(recs))
	seen := make(map[domain.SessionID]bool, len(recs))
	for _, rec := range recs {
		out = append(out, h.view(rec))
		seen[rec.ID] = true
	}
	for _, s := range h.orch.Registry.Sessions() {
		if !seen[s.ID] {
			out = append(out, liveView(s))
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GET /api/sessions without a catalog
func (h *handlers) listLive(c *gin.Context) {
	live := h.orch.Registry.Sessions()
	out := make([]SessionView, 0, len(live))
	for _, s := range live {
		out = append(out, liveView(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GET /api/sessions/:id
func (h *handlers) getSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("id"))
	rec, err := h.store.GetSession(c.Request.Context(), sid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if s, ok := h.orch.Registry.FindSession(sid); ok {
			c.JSON(http.StatusOK, liveView(s))
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("get session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	default:
		c.JSON(http.StatusOK, h.view(rec))
	}
}

// DELETE /api/sessions/:id ends the record and evicts the live broadcast.
func (h *handlers) deleteSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("id"))
	err := h.store.MarkEnded(c.Request.Context(), sid, time.Now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("end session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	evicted := h.orch.EvictSession(sid)
	if err != nil && !evicted {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Bool("evicted", evicted).Msg("session ended")
	c.Status(http.StatusNoContent)
}

// GET /api/sessions/:id/chat
func (h *handlers) chatHistory(c *gin.Context) {
	sid := domain.SessionID(c.Param("id"))
	msgs, err := h.store.ChatHistory(c.Request.Context(), sid, queryLimit(c))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GET /api/ice
func (h *handlers) ice(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.cfg.ICEServers()})
}

// PUT /api/profile stores the display name used for new sockets.
func (h *handlers) updateProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}
	name, err := domain.NormalizeDisplayName(req.DisplayName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set(signal.SessionDisplayNameKey, name)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"displayName": name})
}
