package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventStream streams telemetry events as JSON text frames. Optional query
// parameters run_id, strategy_id, type (comma separated) and level narrow the stream.
// Slow clients lose events rather than stall the publisher.
func (s *Server) handleEventStream(c *gin.Context) {
	if !s.events.Enabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{Code: "EVENTS_DISABLED", Message: "event publishing is disabled"},
		})
		return
	}

	filter := eventFilter(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to upgrade connection")
		return
	}
	defer func() { _ = conn.Close() }()

	log := s.logger.WithFields(map[string]interface{}{
		"client": c.ClientIP(),
		"run_id": c.Query("run_id"),
	})
	log.Info("WebSocket connection established")

	eventCh := make(chan telemetry.Event, wsBuffer)
	subID := s.events.Subscribe(func(e telemetry.Event) {
		select {
		case eventCh <- e:
		default:
		}
	}, filter)
	defer s.events.Unsubscribe(subID)

	// The read loop only services control frames and notices the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("WebSocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case e := <-eventCh:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.WithError(err).Debug("failed to write event")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func eventFilter(c *gin.Context) telemetry.EventFilter {
	var filters []telemetry.EventFilter
	if runID := c.Query("run_id"); runID != "" {
		filters = append(filters, telemetry.FilterByRunID(runID))
	}
	if strategyID := c.Query("strategy_id"); strategyID != "" {
		filters = append(filters, telemetry.FilterByStrategyID(strategyID))
	}
	if types := c.Query("type"); types != "" {
		filters = append(filters, telemetry.FilterByType(strings.Split(types, ",")...))
	}
	if level := c.Query("level"); level != "" {
		filters = append(filters, telemetry.FilterByLevel(level))
	}
	if len(filters) == 0 {
		return nil
	}
	return telemetry.All(filters...)
}
