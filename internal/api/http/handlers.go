// Package http contains the gin handlers for the service API: message
// submission, session inspection, manual heal, and bundle serving.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/deps"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/sandbox"
	"github.com/codefence/codefence/internal/shared/hash"
)

// HealFunc triggers a manual repair attempt for a message.
type HealFunc func(ctx context.Context, messageID string) error

// MessageStore is the write side of message intake. The in-process
// store implements it; a real chat backend would too.
type MessageStore interface {
	chat.Store
	Put(messageID, source string)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	router   *router.Router
	store    MessageStore
	bus      *chat.Bus
	registry *deps.Registry
	bundles  *deps.Store
	pool     *sandbox.Pool
	heal     HealFunc
}

// NewHandlers creates the handler set. metrics, pool, and heal may be nil.
func NewHandlers(
	logger *logging.Logger,
	metrics *monitoring.Metrics,
	rt *router.Router,
	store MessageStore,
	bus *chat.Bus,
	registry *deps.Registry,
	bundles *deps.Store,
	pool *sandbox.Pool,
	heal HealFunc,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		logger:   logger,
		metrics:  metrics,
		router:   rt,
		store:    store,
		bus:      bus,
		registry: registry,
		bundles:  bundles,
		pool:     pool,
		heal:     heal,
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "codefence",
		"version": "1.0.0",
	})
}

// Health handles detailed health checks.
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"sessions": len(h.router.Sessions()),
	}
	if h.pool != nil {
		resp["sandbox_pool"] = h.pool.Stats()
	}
	if h.metrics != nil {
		resp["uptime_seconds"] = int(h.metrics.Uptime().Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

type submitRequest struct {
	Source string `json:"source" binding:"required"`
	Edited bool   `json:"edited"`
}

// SubmitMessage stores a message's markdown and kicks off processing via
// the conversation bus.
func (h *Handlers) SubmitMessage(c *gin.Context) {
	messageID := c.Param("id")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id required"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.store.Put(messageID, req.Source)

	kind := chat.EventRendered
	if req.Edited {
		kind = chat.EventEdited
	}
	h.bus.Publish(chat.Event{Kind: kind, MessageID: messageID, Source: req.Source})

	// The revision digest lets the caller correlate later session state
	// with the exact source it submitted.
	c.JSON(http.StatusAccepted, gin.H{
		"message_id": messageID,
		"revision":   hash.Default().HashString(req.Source),
	})
}

// GetSession returns the live render session for a message.
func (h *Handlers) GetSession(c *gin.Context) {
	view, ok := h.router.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for message"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListSessions returns all live render sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.router.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// CloseMessage tears down a message's session and its contexts.
func (h *Handlers) CloseMessage(c *gin.Context) {
	messageID := c.Param("id")
	h.router.CloseMessage(messageID)
	c.JSON(http.StatusOK, gin.H{"message_id": messageID})
}

// ResetSessions tears down everything; the conversation switched.
func (h *Handlers) ResetSessions(c *gin.Context) {
	h.bus.Publish(chat.Event{Kind: chat.EventChatChanged})
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Heal triggers a manual repair attempt for a failed message.
func (h *Handlers) Heal(c *gin.Context) {
	messageID := c.Param("id")
	if h.heal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "heal not available"})
		return
	}
	if err := h.heal(c.Request.Context(), messageID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": messageID})
}

// ListBundles returns the dependency alias table.
func (h *Handlers) ListBundles(c *gin.Context) {
	entries := h.registry.Entries()
	c.JSON(http.StatusOK, gin.H{
		"bundles": entries,
		"count":   len(entries),
	})
}

// GetBundle serves a bundle's source text by alias.
func (h *Handlers) GetBundle(c *gin.Context) {
	alias := strings.ToLower(c.Param("alias"))
	entry, ok := h.registry.Lookup(alias)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown bundle alias"})
		return
	}

	source, err := h.bundles.Load(entry.File)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/javascript; charset=utf-8", []byte(source))
}
