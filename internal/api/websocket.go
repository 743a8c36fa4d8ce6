package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// Frame types exchanged on /ws.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"
)

// clientSendBuffer is the per-client outbound queue. A client that falls
// this far behind misses events rather than stalling the broadcaster.
const clientSendBuffer = 256

// channelPermissions lists every live channel and the permission needed
// to subscribe to it.
var channelPermissions = map[string]auth.Permission{
	alert.BroadcastChannel:     auth.PermAlertRead,
	dispatch.DoorEventChannel:  auth.PermDoorReadAll,
	dispatch.DoorStatusChannel: auth.PermDoorHistory,
}

// channelsFor returns the channels role may subscribe to, sorted.
func channelsFor(role auth.Role) []string {
	var out []string
	for ch, perm := range channelPermissions {
		if auth.HasPermission(role, perm) {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

// Frame is one JSON message on the socket, in either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	At      time.Time       `json:"at,omitzero"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// channelList is the data of subscribe, unsubscribe and ack frames.
type channelList struct {
	Channels []string `json:"channels"`
}

// Hub fans live events out to connected clients.
//
// Every send to a client's queue happens under the hub's read lock, and a
// queue is only closed under the write lock, so a send never races a close.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient is one authenticated socket.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	role   auth.Role

	mu       sync.Mutex
	channels map[string]bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the single-use ticket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding broadcast payload", "channel", channel, "error", err)
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameEvent, Channel: channel, At: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("encoding broadcast frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered, dropped := 0, 0
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		if c.enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("slow websocket clients missed an event", "channel", channel, "dropped", dropped)
	}
	h.logger.Debug("broadcast sent", "channel", channel, "recipients", delivered)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

// unregister removes c and closes its queue. Safe to call more than once.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
	}
}

// reply queues a frame for one client if it is still registered.
func (h *Hub) reply(c *wsClient, f Frame) {
	f.At = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(data)
	}
}

// enqueue must be called with the hub read lock held.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

// ─── Handler ───────────────────────────────────────────────────────

// handleWebSocket upgrades an authenticated request. The ticket comes from
// POST /auth/ws-ticket. New clients are subscribed to every channel their
// role may read.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, clientSendBuffer),
		userID:   entry.userID,
		role:     entry.role,
		channels: make(map[string]bool),
	}
	for _, ch := range channelsFor(entry.role) {
		c.channels[ch] = true
	}

	s.hub.register(c)
	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// readLoop handles client frames until the connection fails.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // already failing
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings, so any frame counts.
		extend() //nolint:errcheck // see above
		c.handleFrame(data)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // shutting down
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort goodbye
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.fail("", "invalid JSON frame")
		return
	}

	switch f.Type {
	case FramePing:
		c.hub.reply(c, Frame{Type: FramePong, ID: f.ID})
	case FrameSubscribe, FrameUnsubscribe:
		c.changeSubscriptions(f)
	default:
		c.fail(f.ID, "unknown frame type: "+f.Type)
	}
}

// changeSubscriptions applies a subscribe or unsubscribe frame. The whole
// frame is refused if any channel is unknown or not permitted.
func (c *wsClient) changeSubscriptions(f Frame) {
	var list channelList
	if len(f.Data) == 0 || json.Unmarshal(f.Data, &list) != nil || len(list.Channels) == 0 {
		c.fail(f.ID, "data.channels is required")
		return
	}
	for _, ch := range list.Channels {
		perm, known := channelPermissions[ch]
		if !known {
			c.fail(f.ID, "unknown channel: "+ch)
			return
		}
		if !auth.HasPermission(c.role, perm) {
			c.fail(f.ID, "not permitted: "+ch)
			return
		}
	}

	subscribe := f.Type == FrameSubscribe
	c.mu.Lock()
	for _, ch := range list.Channels {
		if subscribe {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	ack, _ := json.Marshal(list) //nolint:errcheck // []string always encodes
	c.hub.reply(c, Frame{Type: FrameAck, ID: f.ID, Data: ack})
}

func (c *wsClient) fail(id, message string) {
	data, _ := json.Marshal(map[string]string{"message": message}) //nolint:errcheck // map[string]string always encodes
	c.hub.reply(c, Frame{Type: FrameError, ID: id, Data: data})
}
