package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// WebsocketUpgrader defines the websocket upgrader settings
var WebsocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in dev; implement proper CORS in production
		return true
	},
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// EventStreamController pushes live audit events over a websocket
type EventStreamController struct {
	audit  *audit.Service
	logger *logrus.Logger
}

// NewEventStreamController creates a new event stream controller
func NewEventStreamController(svc *audit.Service, logger *logrus.Logger) *EventStreamController {
	return &EventStreamController{
		audit:  svc,
		logger: logger,
	}
}

// Stream upgrades the connection and forwards audit events as JSON
// messages. A min_severity query parameter filters what is forwarded.
// Slow consumers miss events rather than stalling the audit pipeline.
func (ctrl *EventStreamController) Stream(c *gin.Context) {
	minSeverity := models.Severity(strings.ToUpper(c.DefaultQuery("min_severity", "INFO")))
	if minSeverity.Rank() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
		return
	}

	ws, err := WebsocketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctrl.logger.WithError(err).Error("Failed to upgrade to websocket connection")
		return
	}
	defer ws.Close()

	events, cancel := ctrl.audit.Subscribe(64)
	defer cancel()

	// Read pump: drain client messages to detect close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ctrl.logger.WithError(err).Debug("WebSocket read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !event.Severity.AtLeast(minSeverity) {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(event); err != nil {
				ctrl.logger.WithError(err).Debug("WebSocket write error")
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
