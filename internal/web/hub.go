package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/tapdial-bridge/internal/logic"
	"github.com/sweeney/tapdial-bridge/internal/mqtt"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf      = 32
	defaultBroadcastBuf = 128
)

// Message types sent to websocket clients.
const (
	MessageHello    = "hello"
	MessageEvent    = "event"
	MessageMetadata = "metadata"
)

// envelope is the wire format for websocket frames.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type metadataData struct {
	DeviceID string              `json:"device_id"`
	Field    logic.MetadataField `json:"field"`
	Value    any                 `json:"value"`
}

type helloData struct {
	Devices []string `json:"devices"`
}

// HubConfig sizes the hub queues. Zero values use defaults.
type HubConfig struct {
	SendBuf      int
	BroadcastBuf int
}

// Hub fans normalized events out to connected websocket clients. A client
// that cannot keep up is disconnected rather than slowing the others.
// Hub is a logic.Sink.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.Mutex
	clients map[*client]struct{}
	sendBuf int
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultBroadcastBuf
	}
	return &Hub{
		logger:     logger.With("component", "ws"),
		now:        time.Now,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *client, 64),
		unregister: make(chan *client, 64),
		clients:    make(map[*client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
	h.logger.Info("client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// broadcastBytes queues a serialized frame. It never blocks; when the hub
// queue is full the frame is dropped.
func (h *Hub) broadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "bytes", len(msg))
	}
}

func (h *Hub) encode(typ string, data any) ([]byte, error) {
	ts := h.now().UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

func (h *Hub) publish(typ string, data any) {
	msg, err := h.encode(typ, data)
	if err != nil {
		h.logger.Warn("marshal failed", "type", typ, "error", err)
		return
	}
	h.broadcastBytes(msg)
}

func (h *Hub) publishEvent(deviceID string, e logic.Event) {
	h.publish(MessageEvent, mqtt.NewEventBody(deviceID, e, h.now()))
}

func (h *Hub) OnButtonEvent(deviceID string, e logic.ButtonEvent) {
	h.publishEvent(deviceID, logic.EventOf(e))
}

func (h *Hub) OnDialEvent(deviceID string, e logic.DialEvent) {
	h.publishEvent(deviceID, logic.EventOf(e))
}

func (h *Hub) OnCombinedEvent(deviceID string, e logic.CombinedEvent) {
	h.publishEvent(deviceID, logic.EventOf(e))
}

func (h *Hub) OnMetadataUpdate(deviceID string, field logic.MetadataField, value any) {
	h.publish(MessageMetadata, metadataData{DeviceID: deviceID, Field: field, Value: value})
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, remoteAddr string) *client {
	return &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: remoteAddr,
	}
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.hub.logger.Debug(pump+" exiting", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.hub.logger.Debug(pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue. It exits on a write error or when the hub
// closes the queue.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write pump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("write pump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames so control frames are processed and
// disconnects are noticed.
func (c *client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read pump", err)
			c.hub.unregister <- c
			return
		}
	}
}
