package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The frame host embeds the feed from arbitrary chat origins.
		return true
	},
}

// HealFunc triggers a manual repair attempt for a message.
type HealFunc func(ctx context.Context, messageID string) error

// FrameEmitter forwards decoded frame wire traffic to the router.
type FrameEmitter func(m wire.Message)

// inbound is a client request on the feed. Frame carries raw wire traffic
// posted back by client-rendered frames.
type inbound struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
}

// client is one feed connection with a dedicated writer.
type client struct {
	id   string
	conn *websocket.Conn
	out  chan interface{}
}

// Handler manages event feed connections.
type Handler struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	heal    HealFunc
	emit    FrameEmitter

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHandler creates the feed handler. metrics, heal, and emit may be nil.
func NewHandler(logger *logging.Logger, metrics *monitoring.Metrics, heal HealFunc, emit FrameEmitter) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		logger:  logger,
		metrics: metrics,
		heal:    heal,
		emit:    emit,
		clients: map[*client]struct{}{},
	}
}

// Broadcast pushes a router update to every connected client. It is
// registered as a router update listener and must not block: slow
// clients lose updates rather than stalling dispatch.
func (h *Handler) Broadcast(u router.Update) {
	payload := map[string]interface{}{
		"type":      "update",
		"update":    u,
		"timestamp": time.Now().Unix(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.out <- payload:
		default:
		}
	}
}

// HandleConnection upgrades the request and serves the feed until the
// client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{id: uuid.NewString(), conn: conn, out: make(chan interface{}, 64)}
	h.register(cl)
	defer h.unregister(cl)

	go cl.writeLoop()

	cl.send(map[string]interface{}{
		"type":    "system",
		"message": "connected to codefence event feed",
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cl.send(map[string]interface{}{
				"type":    "error",
				"message": "malformed request",
			})
			continue
		}

		switch msg.Type {
		case "ping":
			cl.send(map[string]interface{}{"type": "pong"})
		case "heal":
			h.handleHeal(c.Request.Context(), cl, msg.MessageID)
		case "frame":
			h.handleFrame(cl, msg.Frame)
		default:
			cl.send(map[string]interface{}{
				"type":    "error",
				"message": "unknown message type",
			})
		}
	}
}

func (h *Handler) handleHeal(ctx context.Context, cl *client, messageID string) {
	if messageID == "" {
		cl.send(map[string]interface{}{"type": "error", "message": "heal requires messageId"})
		return
	}
	if h.heal == nil {
		cl.send(map[string]interface{}{"type": "error", "message": "heal not available"})
		return
	}

	// Repair involves a completion round-trip; keep the read loop free.
	go func() {
		if err := h.heal(ctx, messageID); err != nil {
			h.logger.Warn("manual heal failed",
				zap.String("message_id", messageID), zap.Error(err))
			cl.send(map[string]interface{}{
				"type":      "error",
				"message":   err.Error(),
				"messageId": messageID,
			})
			return
		}
		cl.send(map[string]interface{}{
			"type":      "heal_started",
			"messageId": messageID,
		})
	}()
}

// handleFrame relays wire traffic from client-rendered frames into the
// router. Foreign channels, unknown types, and malformed payloads are
// dropped without a reply.
func (h *Handler) handleFrame(cl *client, raw []byte) {
	if h.emit == nil || len(raw) == 0 {
		return
	}
	m, err := wire.Decode(raw)
	if err != nil {
		h.logger.Debug("dropping frame message",
			zap.String("client_id", cl.id), zap.Error(err))
		return
	}
	h.emit(m)
}

func (h *Handler) register(cl *client) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("feed client connected", zap.String("client_id", cl.id))
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	close(cl.out)
	cl.conn.Close()
	h.logger.Debug("feed client disconnected", zap.String("client_id", cl.id))
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
}

func (cl *client) writeLoop() {
	for payload := range cl.out {
		if err := cl.conn.WriteJSON(payload); err != nil {
			return
		}
	}
}

func (cl *client) send(payload interface{}) {
	defer func() {
		// The out channel closes on unregister; a racing send must not
		// take the handler down.
		_ = recover()
	}()
	select {
	case cl.out <- payload:
	default:
	}
}
