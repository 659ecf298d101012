// -----------------------------------------------------------------------
// WebSocket Handler - streams progress, queue, and log frames to clients
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // bearer token in the path is the gate, not the origin
	},
}

// WSFrame is the wire shape for every server push
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// LogEntry is a server log line streamed to connected clients
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// wsClient is one connected socket. writeMu serializes writes; gorilla
// connections do not allow concurrent writers.
type wsClient struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	auth     *models.AuthContext
	subID    string
	limiter  *rate.Limiter
	kindsMu  sync.Mutex
	jobKinds map[string]models.JobKind
}

func (c *wsClient) send(frame WSFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHandler upgrades /automation/ws/{token} connections and fans
// progress-bus events out per client, scoped to the token's user.
type WebSocketHandler struct {
	bus      interfaces.ProgressBus
	auth     *common.AuthConfig
	throttle time.Duration
	logger   arbor.ILogger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func NewWebSocketHandler(bus interfaces.ProgressBus, authCfg *common.AuthConfig, wsCfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	throttle := 250 * time.Millisecond
	if wsCfg != nil {
		throttle = common.ParseDuration(wsCfg.ThrottleInterval, throttle)
	}
	return &WebSocketHandler{
		bus:      bus,
		auth:     authCfg,
		throttle: throttle,
		logger:   logger,
		clients:  make(map[*wsClient]bool),
	}
}

// resolveToken maps a path token onto its configured identity
func (h *WebSocketHandler) resolveToken(token string) *models.AuthContext {
	if h.auth == nil || token == "" {
		return nil
	}
	for _, t := range h.auth.Tokens {
		if t.Token == token {
			return &models.AuthContext{UserID: t.UserID, IsAdmin: t.Admin}
		}
	}
	return nil
}

// HandleWebSocket handles WS /automation/ws/{token}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auth := h.resolveToken(r.PathValue("token"))
	if auth == nil {
		WriteError(w, models.NewAuthError(models.CodeAuthFailed, "invalid websocket token"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:     conn,
		auth:     auth,
		limiter:  rate.NewLimiter(rate.Every(h.throttle), 1),
		jobKinds: make(map[string]models.JobKind),
	}

	// Admins see every job; regular tokens only their own user's
	filterUser := auth.UserID
	if auth.IsAdmin {
		filterUser = ""
	}
	client.subID = h.bus.Subscribe(interfaces.ProgressSubscriber{
		UserID: filterUser,
		OnProgress: func(event models.ProgressEvent) {
			h.deliverProgress(client, event)
		},
		OnQueueEvent: func(event interfaces.QueueEvent) {
			client.kindsMu.Lock()
			client.jobKinds[event.JobID] = event.Kind
			client.kindsMu.Unlock()
			if err := client.send(WSFrame{Type: "queue_event", Data: event}); err != nil {
				h.logger.Debug().Err(err).Msg("Queue event not delivered")
			}
		},
	})

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("user_id", auth.UserID).
		Bool("admin", auth.IsAdmin).
		Int("clients", total).
		Msg("WebSocket client connected")

	defer func() {
		h.bus.Unsubscribe(client.subID)
		h.mu.Lock()
		delete(h.clients, client)
		remaining := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read loop: pings get a pong frame, everything else is ignored
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			_ = client.send(WSFrame{Type: "pong", Data: map[string]interface{}{
				"timestamp": time.Now().UTC(),
			}})
		}
	}
}

// deliverProgress maps a progress event onto its frame type and sends it.
// Intermediate frames are throttled per client; terminal frames always go out.
func (h *WebSocketHandler) deliverProgress(client *wsClient, event models.ProgressEvent) {
	frameType := h.frameTypeFor(client, event)
	terminal := frameType == "automation_complete" || frameType == "automation_error"
	if !terminal && !client.limiter.Allow() {
		return
	}
	if err := client.send(WSFrame{Type: frameType, Data: event}); err != nil {
		h.logger.Debug().Err(err).Str("job_id", event.JobID).Msg("Progress frame not delivered")
	}
}

func (h *WebSocketHandler) frameTypeFor(client *wsClient, event models.ProgressEvent) string {
	if event.Phase == models.PhaseError || event.Error != "" {
		return "automation_error"
	}
	if event.Phase == models.PhaseCompletion {
		return "automation_complete"
	}

	client.kindsMu.Lock()
	kind := client.jobKinds[event.JobID]
	client.kindsMu.Unlock()

	switch kind {
	case models.JobKindScrapeList:
		return "enhanced_scraping_progress"
	case models.JobKindScrapeDispensers:
		return "scraping_progress"
	case models.JobKindRunForm:
		return "form_automation_progress"
	case models.JobKindRunBatch:
		return "batch_automation_progress"
	}
	return "automation_progress"
}

// BroadcastLog pushes one server log line to every connected client.
// Used by the arbor WebSocket writer.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.send(WSFrame{Type: "log", Data: entry}); err != nil {
			h.logger.Debug().Err(err).Msg("Log frame not delivered")
		}
	}
}

// ClientCount reports connected sockets (health endpoint)
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
