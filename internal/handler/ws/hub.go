package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	xlogger "AlphaBlend/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]bool // empty means all symbols
}

func (c *client) wants(symbol string) bool {
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// Hub broadcasts every blended decision to connected WebSocket clients.
// Clients may subscribe to a subset with ?symbols=BTCUSDT,ETHUSDT. A client
// whose buffer is full is disconnected so Deliver never blocks.
type Hub struct {
	logger  *xlogger.Logger
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(l *xlogger.Logger) *Hub {
	if l == nil {
		l = xlogger.Nop()
	}
	return &Hub{logger: l, clients: make(map[*client]struct{})}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/decisions", h.Serve)
}

// Serve upgrades the connection and registers the client.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer), symbols: parseSymbols(c.QueryParam("symbols"))}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", xlogger.Int("clients", n))

	go h.writePump(cl)
	go h.readPump(cl)
	return nil
}

// Deliver fans d out to every interested client.
func (h *Hub) Deliver(_ context.Context, d *models.BlendedSignal) error {
	msg, err := json.Marshal(d)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		if !cl.wants(d.Symbol) {
			continue
		}
		select {
		case cl.send <- msg:
		default:
			h.logger.Warn("websocket client too slow, disconnecting")
			h.dropLocked(cl)
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.dropLocked(cl)
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(cl)
}

func (h *Hub) dropLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(cl)
				return
			}
		}
	}
}

// readPump only handles control frames; inbound data is ignored.
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseSymbols(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			out[s] = true
		}
	}
	return out
}

var _ domrepo.DecisionSink = (*Hub)(nil)
