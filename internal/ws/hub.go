// Package ws is the fire-and-forget push sink for slot events. The polling
// path remains the system of record; a dropped broadcast is never an error.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type SlotEvent struct {
	Type    string `json:"type"`
	Date    string `json:"date"`
	StaffID int64  `json:"staff_id"`
	Slot    string `json:"slot"`
	At      string `json:"at"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// SlotChanged broadcasts a slot event to every connected viewer. Slow
// clients are dropped rather than blocking the sender.
func (h *Hub) SlotChanged(event, date string, staffID int64, slot string) {
	payload, err := json.Marshal(SlotEvent{
		Type:    event,
		Date:    date,
		StaffID: staffID,
		Slot:    slot,
		At:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Serve upgrades the request and keeps the connection until the peer goes
// away. Inbound messages are discarded; this channel only pushes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
