package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/middleware"
	"passport-sync-service/internal/progress"
)

const (
	defaultHeartbeat = 25 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// ProgressHandler streams sync progress to dashboards over SSE or WebSocket.
// Streams are advisory; clients reconcile through the status endpoint.
type ProgressHandler struct {
	hub       *progress.Hub
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    *logrus.Entry
}

// NewProgressHandler creates a new progress handler.
// allowedOrigins gates WebSocket upgrades; an empty list accepts any origin.
func NewProgressHandler(hub *progress.Hub, allowedOrigins []string, logger *logrus.Logger) *ProgressHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &ProgressHandler{
		hub:       hub,
		heartbeat: defaultHeartbeat,
		logger:    logger.WithField("component", "progress_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins[origin]
			},
		},
	}
}

// connectionFilter reads the optional connectionId query parameter
func connectionFilter(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("connectionId")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connectionId"})
		return nil, false
	}
	return &id, true
}

// Events streams progress as server-sent events
func (h *ProgressHandler) Events(c *gin.Context) {
	filter, ok := connectionFilter(c)
	if !ok {
		return
	}

	sub := h.hub.Subscribe(c.Request.Context(), middleware.GetBrandID(c), filter)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.SSEvent("ready", gin.H{"subscriptionId": sub.ID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent("progress", event)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// WebSocket streams progress as JSON messages over a WebSocket
func (h *ProgressHandler) WebSocket(c *gin.Context) {
	filter, ok := connectionFilter(c)
	if !ok {
		return
	}
	brandID := middleware.GetBrandID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(c.Request.Context(), brandID, filter)
	defer sub.Close()

	// The read loop only exists to observe the client going away
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(gin.H{"type": "progress", "data": event}); err != nil {
				h.logger.WithError(err).WithField("brand_id", brandID).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
