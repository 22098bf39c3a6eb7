package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
	"golang.org/x/time/rate"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local status API, no origin restriction
	},
}

// Hub fans bus events out to websocket clients. It consumes the dispatcher
// feed like any sink; a client that cannot drain its buffer is dropped so
// the feed never waits on a slow reader. Progress and heartbeat events
// share a rate budget; lifecycle and error events always pass.
type Hub struct {
	logger   arbor.ILogger
	throttle *rate.Limiter

	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub
func NewHub(logger arbor.ILogger) *Hub {
	return &Hub{
		logger:   logger,
		throttle: rate.NewLimiter(rate.Every(250*time.Millisecond), 10),
		clients:  make(map[*wsClient]bool),
	}
}

// Consume implements the event sink: marshal once, offer to every client
func (h *Hub) Consume(event models.Event) {
	switch event.Type {
	case models.EventProgress, models.EventHeartbeat:
		if !h.throttle.Allow() {
			return
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal stream event")
		return
	}

	var slow []*wsClient
	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.dropLocked(client)
	}
	h.mu.Unlock()

	if len(slow) > 0 {
		h.logger.Warn().Int("dropped", len(slow)).Msg("Dropped slow websocket clients")
	}
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects or falls behind.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", count)

	go client.writeLoop()

	// Read loop keeps the connection alive and detects disconnects; inbound
	// payloads are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}

	h.mu.Lock()
	h.dropLocked(client)
	remaining := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
}

// ClientCount reports the connected client count
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used at server shutdown
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropLocked(client)
	}
}

// dropLocked removes a client and stops its writer. Callers hold h.mu;
// double drops are no-ops.
func (h *Hub) dropLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// writeLoop drains the send buffer onto the wire. It exits when the hub
// closes the channel, then tears down the connection which also unblocks
// the read loop.
func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
}

var _ interfaces.EventSink = (*Hub)(nil)
