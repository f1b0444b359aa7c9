// Package ws WebSocket 推送订单结束事件
package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

const (
	channelPrefix = "order."
	// ChannelAll 订阅所有订单
	ChannelAll = channelPrefix + "*"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type Config struct {
	AllowedOrigins          []string
	MaxSubscriptionsPerConn int
	MaxConnections          int
}

// Hub WebSocket 连接管理
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	cfg      Config
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// Client WebSocket 客户端
type Client struct {
	conn          *websocket.Conn
	hub           *Hub
	mu            sync.Mutex
	subscriptions map[string]struct{}
	send          chan []byte
	closed        chan struct{}
	closeOnce     sync.Once
}

// Request 客户端请求
type Request struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

// Response 服务端响应或推送
type Response struct {
	Op      string      `json:"op,omitempty"`
	Channel string      `json:"channel,omitempty"`
	Success bool        `json:"success,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewHub 创建连接管理器
func NewHub(cfg Config, log *logger.Logger) *Hub {
	if cfg.MaxSubscriptionsPerConn <= 0 {
		cfg.MaxSubscriptionsPerConn = 50
	}
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		clients: make(map[*Client]struct{}),
		cfg:     cfg,
		log:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return allowOrigin(r, h.cfg.AllowedOrigins)
		},
	}
	return h
}

// Handle 升级连接；?orderId= 会预先订阅该订单
func (h *Hub) Handle(c *gin.Context) {
	if max := h.cfg.MaxConnections; max > 0 && h.ClientCount() >= max {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": "UNAVAILABLE", "message": "too many connections"})
		return
	}
	initial := ""
	if id := strings.TrimSpace(c.Query("orderId")); id != "" {
		initial = channelPrefix + id
		if err := validateChannel(initial); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "INVALID_PARAM", "message": err.Error()})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:          conn,
		hub:           h,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, 256),
		closed:        make(chan struct{}),
	}
	if initial != "" {
		client.subscriptions[initial] = struct{}{}
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Notify 推送结束事件给订阅了该订单或全部订单的客户端
func (h *Hub) Notify(event saga.Event) {
	channel := channelPrefix + event.OrderID
	data, err := json.Marshal(Response{Channel: channel, Data: event})
	if err != nil {
		h.log.WithError(err).Error("encode websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.subscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount 客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关闭所有连接
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (c *Client) readPump() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("invalid request")
			continue
		}
		c.handle(req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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

func (c *Client) handle(req Request) {
	switch req.Op {
	case "subscribe":
		c.subscribe(req.Channel)
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, req.Channel)
		c.mu.Unlock()
		c.sendResponse(Response{Op: "unsubscribe", Channel: req.Channel, Success: true})
	case "ping":
		c.sendResponse(Response{Op: "pong"})
	default:
		c.sendError("unknown op")
	}
}

func (c *Client) subscribe(channel string) {
	if err := validateChannel(channel); err != nil {
		c.sendError(err.Error())
		return
	}

	c.mu.Lock()
	_, exists := c.subscriptions[channel]
	if !exists && len(c.subscriptions) >= c.hub.cfg.MaxSubscriptionsPerConn {
		c.mu.Unlock()
		c.sendError("too many subscriptions")
		return
	}
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()

	c.sendResponse(Response{Op: "subscribe", Channel: channel, Success: true})
}

func (c *Client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[ChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *Client) sendResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(msg string) {
	c.sendResponse(Response{Error: msg})
}

// trySend 发送缓冲满时丢弃，慢客户端不阻塞推送
func (c *Client) trySend(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func allowOrigin(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" || (o != "" && o == origin) {
			return true
		}
	}
	return false
}

// validateChannel accepts order.* and order.<snowflake id>.
func validateChannel(channel string) error {
	if channel == ChannelAll {
		return nil
	}
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || id == "" || len(id) > 32 {
		return fmt.Errorf("invalid channel")
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return fmt.Errorf("invalid channel")
		}
	}
	return nil
}
