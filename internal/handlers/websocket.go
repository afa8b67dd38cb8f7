// -----------------------------------------------------------------------
// WebSocket handler - streams scheduler events to connected clients
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// WebSocketHandler upgrades connections and fans scheduler events out to
// them. Per-event-type rate limits keep chatty events (progress ticks)
// from flooding slow clients.
type WebSocketHandler struct {
	events   interfaces.EventService
	config   *common.WebSocketConfig
	upgrader websocket.Upgrader
	logger   arbor.ILogger
}

// NewWebSocketHandler creates the handler
func NewWebSocketHandler(events interfaces.EventService, config *common.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		events: events,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: common.GetLogger(),
	}
}

// Handle upgrades GET /ws and streams events until the client disconnects
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan interfaces.Event, sendBufferSize),
		allowed:  h.allowedEvents(),
		limiters: h.buildLimiters(),
		logger:   h.logger,
	}

	unsubscribe := h.events.SubscribeAll(client.enqueue)
	defer unsubscribe()

	go client.writePump()
	client.readPump()
}

// allowedEvents builds the broadcast whitelist; empty means everything
func (h *WebSocketHandler) allowedEvents() map[interfaces.EventType]bool {
	if len(h.config.AllowedEvents) == 0 {
		return nil
	}
	allowed := make(map[interfaces.EventType]bool, len(h.config.AllowedEvents))
	for _, name := range h.config.AllowedEvents {
		allowed[interfaces.EventType(name)] = true
	}
	return allowed
}

// buildLimiters creates one rate limiter per throttled event type
func (h *WebSocketHandler) buildLimiters() map[interfaces.EventType]*rate.Limiter {
	limiters := make(map[interfaces.EventType]*rate.Limiter, len(h.config.ThrottleIntervals))
	for name, interval := range h.config.ThrottleIntervals {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			continue
		}
		limiters[interfaces.EventType(name)] = rate.NewLimiter(rate.Every(d), 1)
	}
	return limiters
}

// wsClient is one connected subscriber
type wsClient struct {
	conn     *websocket.Conn
	send     chan interfaces.Event
	allowed  map[interfaces.EventType]bool
	limiters map[interfaces.EventType]*rate.Limiter
	logger   arbor.ILogger
}

// enqueue filters, throttles, and buffers one event. Drops rather than
// blocks when the client cannot keep up.
func (c *wsClient) enqueue(event interfaces.Event) {
	if c.allowed != nil && !c.allowed[event.Type] {
		return
	}
	if limiter, ok := c.limiters[event.Type]; ok && !limiter.Allow() {
		return
	}
	select {
	case c.send <- event:
	default:
		c.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("Dropping event for slow WebSocket client")
	}
}

// readPump consumes control frames until the connection closes
func (c *wsClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes buffered events and pings to the connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
