package notifyhub

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

const (
	writeWait = 5 * time.Second
	// sendQueue bounds the notifications buffered for one client
	sendQueue = 32
)

// Hub holds WebSocket connections and broadcasts file notifications to every client
// subscribed to the notification's owner. Each client is written by its own goroutine.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*client
}

type client struct {
	owner string
	send  chan []byte
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

func New() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]*client),
	}
}

// Register adds a WebSocket connection scoped to owner and starts its writer.
func (h *Hub) Register(conn *websocket.Conn, owner string) {
	c := &client{owner: owner, send: make(chan []byte, sendQueue)}
	h.mu.Lock()
	h.conns[conn] = c
	h.mu.Unlock()
	go c.writeLoop(conn)
}

// Unregister forgets conn and stops its writer. Unknown connections are ignored.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(c.send)
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Notify queues the notification as JSON for the connections of its owner
// (Data["owner"]); notifications without an owner go to everyone. It never waits on a
// client: one whose queue is full is disconnected.
func (h *Hub) Notify(notification types.Notification) {
	if h == nil {
		return
	}
	owner, _ := notification.Data["owner"].(string)
	payload, err := sonic.Marshal(notification)
	if err != nil {
		tool.DefaultLogger.Errorf("[Notify] failed to marshal %s notification: %v", notification.Type, err)
		return
	}

	var stalled []*websocket.Conn
	h.mu.RLock()
	for conn, c := range h.conns {
		if owner != "" && c.owner != owner {
			continue
		}
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stalled {
		tool.DefaultLogger.Warnf("[Notify] client %s is not keeping up, disconnecting", conn.RemoteAddr())
		h.Unregister(conn)
		_ = conn.Close()
	}
}

func (c *client) writeLoop(conn *websocket.Conn) {
	failed := false
	for payload := range c.send {
		if failed {
			continue
		}
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			// the read loop in HandleNotifyWS sees the close and unregisters
			tool.DefaultLogger.Debugf("[Notify] dropping client: %v", err)
			failed = true
			_ = conn.Close()
		}
	}
}
