// 文件路径: internal/api/hub.go
// 模块说明: WebSocket 推送中心，把代理组、流量、服务状态与内核日志实时推给界面。
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/creamcroissant/clashpilot/internal/support/stream"
	"github.com/gorilla/websocket"
)

// Message types pushed over /api/v1/ws.
const (
	MessageGroups  = "groups"
	MessageTraffic = "traffic"
	MessageState   = "state"
	MessageLogs    = "logs"
)

const (
	clientSendBuffer = 32
	writeWait        = 10 * time.Second
)

// Message is the envelope of every push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	logger     *slog.Logger
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu       sync.RWMutex
	snapshot func() []Message
}

// NewHub 创建推送中心，需要调用 Run 才会开始分发。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "ws-hub"),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// SetSnapshot sets the messages sent to each client right after it connects.
func (h *Hub) SetSnapshot(fn func() []Message) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run dispatches until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("websocket client registered", "remote_addr", c.conn.RemoteAddr().String(), "clients", len(h.clients))
			for _, msg := range h.initialMessages() {
				if payload, err := json.Marshal(msg); err == nil {
					h.offer(c, payload)
				}
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("websocket client unregistered", "remote_addr", c.conn.RemoteAddr().String(), "clients", len(h.clients))
			}
		case payload := <-h.broadcast:
			for c := range h.clients {
				h.offer(c, payload)
			}
		}
	}
}

func (h *Hub) initialMessages() []Message {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// offer never blocks the hub; a client that cannot keep up is dropped.
func (h *Hub) offer(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("websocket client too slow, dropping", "remote_addr", c.conn.RemoteAddr().String())
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast 推送一条消息给所有客户端；分发队列满时丢弃。
func (h *Hub) Broadcast(typ string, data any) {
	payload, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		h.logger.Error("marshal websocket message failed", "type", typ, "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		h.logger.Debug("broadcast channel full, skipping", "type", typ)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles websocket requests from the peer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)

	// The read pump only detects when the peer goes away.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					h.logger.Warn("unexpected websocket close", "error", err)
				}
				return
			}
		}
	}()
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("websocket write failed", "remote_addr", c.conn.RemoteAddr().String(), "error", err)
			_ = c.conn.Close()
			// Closing the conn ends the read pump, which unregisters c and closes send.
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// Forward pushes every value published on s as a message of type typ until ctx is done.
// The initial replay is skipped; new clients get it from the snapshot.
func Forward[T any](ctx context.Context, h *Hub, typ string, s *stream.Stream[T], transform func(T) any) {
	ch := s.Subscribe(ctx)
	if _, ok := <-ch; !ok {
		return
	}
	for v := range ch {
		if transform != nil {
			h.Broadcast(typ, transform(v))
			continue
		}
		h.Broadcast(typ, v)
	}
}
