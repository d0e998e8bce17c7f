package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/service"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

// EventSnapshot is the first message on a dashboard socket.
const EventSnapshot = "dashboard.snapshot"

type wsClient struct {
	conn     *websocket.Conn
	owner    string
	send     chan []byte
	lastSeen time.Time
}

type ownerMessage struct {
	owner string
	data  []byte
}

// Hub fans service events out to each owner's dashboard sockets. It
// implements service.Notifier.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*wsClient]struct{}
	broadcast chan ownerMessage
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:   make(map[string]map[*wsClient]struct{}),
		broadcast: make(chan ownerMessage, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.Component("websocket"),
	}
}

func checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowAll || origin == "" || allowed[origin]
	}
}

// Run delivers queued events until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	cleanup := time.NewTicker(30 * time.Second)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-cleanup.C:
			h.expire(time.Now())
		}
	}
}

// Notify queues e for the owner's sockets. Events are dropped when the hub
// is saturated.
func (h *Hub) Notify(owner string, e service.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Str("type", e.Type).Msg("failed to encode event")
		return
	}
	select {
	case h.broadcast <- ownerMessage{owner: owner, data: data}:
	default:
		h.log.Warn().Str("owner", owner).Str("type", e.Type).Msg("event dropped, broadcast queue full")
	}
}

// Clients returns the number of open sockets for owner.
func (h *Hub) Clients(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[owner])
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.owner] == nil {
		h.clients[c.owner] = make(map[*wsClient]struct{})
	}
	h.clients[c.owner][c] = struct{}{}
	c.lastSeen = time.Now()
	h.log.Debug().Str("owner", c.owner).Int("clients", len(h.clients[c.owner])).Msg("dashboard socket connected")
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send exactly once: only clients still in the map are
// closed.
func (h *Hub) removeLocked(c *wsClient) {
	conns, ok := h.clients[c.owner]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.owner)
	}
	close(c.send)
	h.log.Debug().Str("owner", c.owner).Msg("dashboard socket disconnected")
}

func (h *Hub) deliver(msg ownerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[msg.owner] {
		select {
		case c.send <- msg.data:
		default:
			h.log.Warn().Str("owner", c.owner).Msg("dropping slow dashboard socket")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) expire(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			if now.Sub(c.lastSeen) > pongWait {
				h.removeLocked(c)
			}
		}
	}
}

func (h *Hub) touch(c *wsClient) {
	h.mu.Lock()
	c.lastSeen = time.Now()
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for c := range conns {
			h.removeLocked(c)
		}
	}
}

// dashboardSocket upgrades the request and streams the caller's dashboard
// events, starting with a snapshot of the current summary.
func (s *Server) dashboardSocket(w http.ResponseWriter, r *http.Request) {
	sess := caller(r)
	summary, err := s.svc.Summary(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, owner: sess.UserID, send: make(chan []byte, sendBuffer)}
	snapshot, _ := json.Marshal(service.Event{Type: EventSnapshot, Summary: &summary, Timestamp: time.Now().UTC()})
	c.send <- snapshot
	s.hub.register(c)

	go s.hub.writePump(c)
	s.hub.readPump(c)
}

// readPump discards client messages and keeps the connection alive until
// the peer goes away.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		h.touch(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("owner", c.owner).Msg("dashboard socket read failed")
			}
			return
		}
		h.touch(c)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug().Err(err).Str("owner", c.owner).Msg("dashboard socket write failed")
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
