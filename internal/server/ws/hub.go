package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"card-tracker-go/infrastructure/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 必须小于 pongWait
	maxMessageSize = 1024
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 覆盖层与控制面板同源部署，这里不限制 Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 维护 WebSocket 连接，把每次渲染出的图表推送给所有客户端。
// 客户端集合与最新一帧只由 Run 所在 goroutine 持有。
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	latest     []byte
	logger     *logger.Logger
	onCount    func(n int)
}

// NewHub 创建 Hub；onCount 在连接数变化时回调，可为 nil。
func NewHub(log *logger.Logger, onCount func(n int)) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	if onCount == nil {
		onCount = func(int) {}
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     log,
		onCount:    onCount,
	}
}

// Run 事件循环，ctx 取消后关闭所有连接并返回。
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.onCount(0)
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			if h.latest != nil {
				c.send <- h.latest
			}
			h.onCount(len(h.clients))
			h.logger.Debug("ws client connected", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.onCount(len(h.clients))
			h.logger.Debug("ws client disconnected", zap.Int("clients", len(h.clients)))

		case msg := <-h.broadcast:
			h.latest = msg
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// 慢客户端：丢弃本帧，下一帧会带上完整图表
					h.logger.Warn("ws dropping frame for slow client")
				}
			}
		}
	}
}

// Broadcast 推送一帧；Hub 忙或已停止时丢弃，不阻塞调用方。
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("ws broadcast queue full, frame dropped")
	}
}

// HandleWS GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump 只处理控制帧与关闭；客户端消息被忽略。
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
