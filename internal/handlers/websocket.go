package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lumen-build/internal/metrics"
	"lumen-build/internal/supervisor"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamBuild bridges the build event stream onto a WebSocket. On connect
// the ordered history for the project is replayed so late subscribers see the
// full run; live events follow in emission order.
// GET /ws/builds/:id
func (h *BuildHandler) StreamBuild(c *gin.Context) {
	projectID, _, ok := h.ownedProject(c)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.Get().WSConnections.Inc()
	defer metrics.Get().WSConnections.Dec()

	stream := h.sup.Stream()
	events := stream.Subscribe(256)
	defer stream.Unsubscribe(events)

	// Replay first. Live events that raced the replay are deduplicated by
	// sequence number.
	var lastSeq uint64
	for _, ev := range stream.History() {
		if ev.ProjectID != projectID {
			continue
		}
		if writeEvent(conn, ev) != nil {
			return
		}
		lastSeq = ev.Seq
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.ProjectID != projectID || ev.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev supervisor.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
