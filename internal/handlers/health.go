package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
)

// HealthHandler serves the unauthenticated liveness endpoint
type HealthHandler struct {
	pool      interfaces.BrowserPool
	queue     interfaces.QueueManager
	ws        *WebSocketHandler
	startedAt time.Time
}

func NewHealthHandler(pool interfaces.BrowserPool, queue interfaces.QueueManager, ws *WebSocketHandler) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		queue:     queue,
		ws:        ws,
		startedAt: time.Now(),
	}
}

// HealthHandler handles GET /health
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	status := "ok"

	if h.pool != nil {
		components["browser"] = h.pool.Stats()
	}
	if h.queue != nil {
		if stats, err := h.queue.Stats(r.Context()); err == nil {
			components["queue"] = stats
		} else {
			components["queue"] = map[string]string{"error": "unavailable"}
			status = "degraded"
		}
	}
	if h.ws != nil {
		components["websocket_clients"] = h.ws.ClientCount()
	}
	components["background_goroutines"] = common.GetGoroutineCount()

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"components":     components,
	})
}
