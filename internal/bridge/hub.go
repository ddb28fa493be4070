// Package bridge streams control point events to websocket clients as
// JSON, one document per message.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Messages queued per client before it is considered slow and dropped
	sendQueueSize = 64

	// Events queued for Run before Publish starts dropping
	broadcastQueueSize = 256
)

// Hub fans published events out to every connected websocket client.
// Clients are read-only: anything they send is discarded.
type Hub struct {
	upgrader  websocket.Upgrader
	clock     clock.Clock
	log       *zap.Logger
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var _ controlpoint.Listener = (*Hub)(nil)

type client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates a hub. Run must be called to deliver events.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Events carry no credentials; any origin may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clock:     clock.New(),
		log:       logging.Named("bridge"),
		broadcast: make(chan []byte, broadcastQueueSize),
		clients:   make(map[*client]struct{}),
	}
}

// Run delivers published events until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("Dropping slow websocket client", zap.Stringer("client", c.id))
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for every client. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Event queue full, dropping event", zap.String("type", ev.Type))
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("Websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("Websocket client connected",
		zap.Stringer("client", c.id),
		zap.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) DeviceAdded(dev *device.Device) {
	h.Publish(NewDeviceEvent(TypeDeviceAdded, dev, h.clock.Now()))
}

func (h *Hub) DeviceUpdated(dev *device.Device) {
	h.Publish(NewDeviceEvent(TypeDeviceUpdated, dev, h.clock.Now()))
}

func (h *Hub) DeviceRemoved(dev *device.Device) {
	h.Publish(NewDeviceEvent(TypeDeviceRemoved, dev, h.clock.Now()))
}

func (h *Hub) PropertyChanged(ev controlpoint.Event) {
	h.Publish(NewPropertyEvent(ev, h.clock.Now()))
}

// close ends the write pump, which closes the connection.
func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// readPump consumes control frames so pongs and close frames are handled.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("Websocket client read failed", zap.Stringer("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.log.Info("Websocket client disconnected", zap.Stringer("client", c.id))
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}
