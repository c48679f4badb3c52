package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agentdeck/internal/events"
	"agentdeck/log"
)

const (
	eventBufferSize = 64
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var streamedEventTypes = []events.EventType{
	events.EventRunCreated,
	events.EventRunUpdated,
	events.EventRunCompleted,
	events.EventRunFailed,
	events.EventRunPaused,
	events.EventRunResumed,
	events.EventError,
}

// StreamEvents upgrades the connection and forwards every bus event to
// the client as JSON. A client that cannot keep up has events dropped
// rather than blocking the publisher.
func (h *Handler) StreamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.GetLogger().Error("[Events] websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	buffer := make(chan events.Event, eventBufferSize)
	subscriptions := make([]events.Subscription, 0, len(streamedEventTypes))
	for _, eventType := range streamedEventTypes {
		subscriptions = append(subscriptions, h.Bus.AddEventListener(eventType, func(e events.Event) {
			select {
			case buffer <- e:
			default:
				log.GetLogger().Warn("[Events] slow client, dropping event",
					zap.String("event_type", string(e.Type)),
					zap.String("run_id", e.RunId))
			}
		}))
	}
	defer func() {
		for _, sub := range subscriptions {
			h.Bus.RemoveEventListener(sub)
		}
	}()

	// Read pump: we never expect client messages, but reading is how
	// close frames surface.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event := <-buffer:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.GetLogger().Debug("[Events] client write failed, closing", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
