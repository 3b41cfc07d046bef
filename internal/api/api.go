// Package api serves the inbound email webhook, human negotiation actions and the
// live event stream over HTTP.
package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/events"
)

// UserHeader carries the caller's opaque user id. Identity is resolved upstream.
const UserHeader = "X-User-ID"

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	svc        *app.NegotiationService
	correlator *app.Correlator
	logger     *log.Logger
	ws         *events.WSHandler
	mounts     map[string]http.Handler
	started    time.Time
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithEvents enables GET /api/events/ws on emitter.
func WithEvents(emitter *events.Emitter) HandlerOption {
	return func(h *Handler) {
		h.ws = events.NewWSHandler(emitter, userID, h.logger)
	}
}

// WithMount serves handler for every method under path (e.g. the MCP endpoint).
func WithMount(path string, handler http.Handler) HandlerOption {
	return func(h *Handler) { h.mounts[path] = handler }
}

// NewHandler creates a handler.
func NewHandler(svc *app.NegotiationService, correlator *app.Correlator, logger *log.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:        svc,
		correlator: correlator,
		logger:     logger,
		mounts:     make(map[string]http.Handler),
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(h.logger.Writer()), gin.Recovery(), cors())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the routes to r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.health)
	r.POST("/api/webhooks/email", h.inboundEmail)

	neg := r.Group("/api/negotiations")
	neg.POST("", h.createNegotiation)
	neg.GET("", h.listNegotiations)
	neg.GET("/:id", h.getNegotiation)
	neg.DELETE("/:id", h.deleteNegotiation)
	neg.POST("/:id/accept", h.acceptNegotiation)
	neg.POST("/:id/reject", h.rejectNegotiation)
	neg.POST("/:id/messages", h.sendMessage)
	neg.POST("/:id/counter-offers", h.addCounterOffer)
	neg.PATCH("/:id/counter-offers/:offerId", h.updateCounterOffer)
	neg.POST("/:id/agent/activate", h.activateAgent)
	neg.POST("/:id/agent/deactivate", h.deactivateAgent)
	neg.POST("/:id/agent/resume", h.resumeAgent)
	neg.GET("/:id/agent/config", h.getAgentConfig)
	neg.PATCH("/:id/agent/config", h.updateAgentConfig)

	r.GET("/api/notifications", h.listNotifications)
	r.POST("/api/notifications/:id/read", h.markNotificationRead)

	if h.ws != nil {
		r.GET("/api/events/ws", h.ws.Handle)
	}
	for path, handler := range h.mounts {
		r.Any(path, gin.WrapH(handler))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(UserHeader)); id != "" {
		return id
	}
	// Browsers cannot set headers on websocket upgrades.
	if c.IsWebsocket() {
		return strings.TrimSpace(c.Query("user"))
	}
	return ""
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
