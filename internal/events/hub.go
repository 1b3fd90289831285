package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// feedMessage wraps an event payload with its ledger sequence for replay
type feedMessage struct {
	Seq  uint64
	Data []byte
}

// ringBuffer holds the last N feed messages
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []feedMessage
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]feedMessage, size), size: size}
}

// add appends a message, overwriting old entries when full
func (r *ringBuffer) add(msg feedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// getSince returns buffered messages with Seq > since
func (r *ringBuffer) getSince(since uint64) []feedMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []feedMessage
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// feedClient represents a single WebSocket subscriber
type feedClient struct {
	conn *websocket.Conn
	send chan feedMessage
	hub  *Hub
}

// Hub fans committed market events out to WebSocket subscribers. Every
// client receives the whole feed; a replay buffer covers short reconnect
// gaps via the since parameter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan feedMessage

	buffer   *ringBuffer
	upgrader websocket.Upgrader
}

// NewHub creates a Hub with the given replay buffer size
func NewHub(replaySize int) *Hub {
	h := &Hub{
		clients:    make(map[*feedClient]struct{}),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan feedMessage, 1024),
		buffer:     newRingBuffer(replaySize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go h.run()
	return h
}

// run handles registration, unregistration, and broadcasting
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.buffer.add(msg)
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// drop slow client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for all subscribers
func (h *Hub) Broadcast(seq uint64, data []byte) {
	h.broadcast <- feedMessage{Seq: seq, Data: data}
}

// ServeWS upgrades the request and streams the feed. Events with sequence
// greater than since are replayed from the buffer first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, since uint64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &feedClient{
		conn: conn,
		send: make(chan feedMessage, 256),
	}
	c.hub = h
	for _, msg := range h.buffer.getSince(since) {
		c.send <- msg
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump drains control frames until the client goes away
func (c *feedClient) readPump() {
	defer func() { c.hub.unregister <- c; c.conn.Close() }()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump sends messages and heartbeats to the client
func (c *feedClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
