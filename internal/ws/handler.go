// Package ws streams live terminal output and supervisor events over
// WebSocket.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/term"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

const writeTimeout = 10 * time.Second

// Handler manages WebSocket connections.
type Handler struct {
	runner *term.Runner
	hub    *events.Hub
	logger *logging.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(runner *term.Runner, hub *events.Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{runner: runner, hub: hub, logger: logger}
}

// StreamEvents pushes supervisor events (decisions, held confirmations,
// provider transitions) to the client as JSON.
func (h *Handler) StreamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.hub.Subscribe()
	defer cancel()

	// Reader goroutine: its only job is to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.send(conn, gin.H{"type": "system", "message": "connected to overseer event stream"})

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := h.send(conn, ev); err != nil {
				return
			}
		}
	}
}

// StreamOutput pushes one session's raw terminal output to the client as
// binary frames.
func (h *Handler) StreamOutput(c *gin.Context) {
	sessionID := c.Param("id")

	ch, cancel, err := h.runner.Subscribe(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	conn, upgradeErr := upgrader.Upgrade(c.Writer, c.Request, nil)
	if upgradeErr != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session", sessionID),
			zap.Error(upgradeErr))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Text frames from the client are typed straight into the
			// terminal.
			if msgType == websocket.TextMessage && len(data) > 0 {
				h.runner.Write(sessionID, data)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				// Terminal exited; tell the client before closing.
				h.send(conn, gin.H{"type": "session_closed", "session_id": sessionID})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(data)
}
