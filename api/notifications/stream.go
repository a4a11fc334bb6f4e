package notifications

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type client struct {
	driverID string
	conn     *websocket.Conn
	send     chan model.Notification
}

// Hub fans notification events out to the websocket connections of the
// addressed driver. A driver may hold several connections.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewHub returns a hub accepting upgrades from origins. An empty list only
// accepts same-host requests.
func NewHub(origins []string, log logger.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(origins) > 0 {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed["*"] || allowed[r.Header.Get("Origin")]
		}
	}
	return h
}

// Run delivers events from sub until ctx is canceled or sub is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, sub <-chan events.NotificationEvent) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			h.deliver(ev.Notification)
		}
	}
}

// Connected returns the number of open connections of driverID.
func (h *Hub) Connected(driverID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[driverID])
}

func (h *Hub) deliver(n model.Notification) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients[n.DriverID] {
		select {
		case c.send <- n:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warnf("websocket client of %s too slow, disconnecting", c.driverID)
		h.remove(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.driverID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.driverID] = set
	}
	set[c] = struct{}{}
}

// remove unregisters c and closes its send channel exactly once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.driverID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.driverID)
	}
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, id)
	}
}

// ServeWS upgrades the request and streams the caller's new notifications
// as JSON text frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}
	c := &client{driverID: httpx.Actor(r).ID, conn: conn, send: make(chan model.Notification, sendBuffer)}
	h.add(c)
	h.log.Debugw("websocket connected", map[string]any{"driver_id": c.driverID})
	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only consumes control frames; it returns when the peer goes away.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("websocket closed", map[string]any{"driver_id": c.driverID, "error": err.Error()})
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer monitoring.Recover()
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case n, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				h.log.Warnf("websocket write to %s: %v", c.driverID, err)
				return
			}
		case <-t.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
