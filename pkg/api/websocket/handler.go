package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

const (
	writeWait  = 10 * time.Second
	bufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams bus traffic to WebSocket clients
type Handler struct {
	bus    ports.MessageBus
	topics []string
	logger *zap.Logger
}

// NewHandler creates a handler streaming the given topics
func NewHandler(bus ports.MessageBus, topics []string, logger *zap.Logger) *Handler {
	return &Handler{
		bus:    bus,
		topics: topics,
		logger: logger,
	}
}

// HandleStream upgrades the connection and forwards every message seen on
// the handler's topics. The optional "topic" query parameter narrows the
// stream to one of them.
func (h *Handler) HandleStream(c *gin.Context) {
	topics := h.topics
	if want := c.Query("topic"); want != "" {
		if !h.serves(want) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown topic"})
			return
		}
		topics = []string{want}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.Strings("topics", topics),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the client only ever closes; reading surfaces that
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	msgs := make(chan domain.Message, bufferSize)
	h.subscribe(ctx, topics, msgs)

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-msgs:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal message", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) serves(topic string) bool {
	for _, t := range h.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// subscribe attaches to every topic for the lifetime of ctx. Messages
// that do not fit in ch are dropped.
func (h *Handler) subscribe(ctx context.Context, topics []string, ch chan<- domain.Message) {
	forward := func(ctx context.Context, msg domain.Message) error {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("stream channel full, dropping message",
				zap.String("message_id", msg.ID),
				zap.String("kind", string(msg.Kind)))
		}
		return nil
	}

	for _, topic := range topics {
		if err := h.bus.Subscribe(ctx, topic, forward); err != nil {
			h.logger.Error("failed to subscribe to topic",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
