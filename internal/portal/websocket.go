package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeStatus = "status"
	WSTypePing   = "ping"
	WSTypePong   = "pong"
	WSTypeError  = "error"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 16

	wsMaxMessageSize = 512
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 60 * time.Second

	// statusPushInterval is how often the hub samples the node snapshot.
	// Unchanged snapshots are not resent.
	statusPushInterval = time.Second
)

// WSMessage is a message sent to or from a live status client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// hub fans node snapshots out to connected WebSocket clients.
type hub struct {
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	last    []byte
}

type wsClient struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The portal is only reachable on the local network.
		return true
	},
}

func newHub(logger *logging.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// run pushes a snapshot whenever it changes, until ctx ends.
func (h *hub) run(ctx context.Context, node Node) {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.publish(node)
		}
	}
}

func (h *hub) publish(node Node) {
	if h.clientCount() == 0 {
		return
	}
	snapshot, err := json.Marshal(node.Status())
	if err != nil {
		h.logger.Error("failed to marshal status", "error", err)
		return
	}
	h.mu.Lock()
	changed := !bytes.Equal(snapshot, h.last)
	h.last = snapshot
	h.mu.Unlock()
	if changed {
		h.broadcast(statusMessage(snapshot))
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.clientCount())
}

// unregister removes a client. Only the caller that removes it from the map
// closes its send channel.
func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.clientCount())
}

func (h *hub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

func statusMessage(snapshot []byte) []byte {
	//nolint:errcheck // RawMessage of valid JSON always marshals
	data, _ := json.Marshal(WSMessage{
		Type:      WSTypeStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   json.RawMessage(snapshot),
	})
	return data
}

// handleWebSocket upgrades the connection and streams status snapshots,
// starting with the current one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	if snapshot, err := json.Marshal(s.node.Status()); err == nil {
		client.send <- statusMessage(snapshot)
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	//nolint:errcheck // best-effort deadline
	c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // best-effort deadline
		c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongWait))
		c.handleMessage(message)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers client pings. The stream is otherwise one-way.
func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}
	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend drops the message when the client is slow or already gone.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}
