package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/green-corridor/entity"
)

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
)

// Envelope 推送给websocket客户端的消息
type Envelope struct {
	Type string `json:"type"` // signal_state | detection | route | system_event
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

// Hub websocket事件推送中心
// 功能：实现entity.IRecorder，将所有记录实时推送给已连接的客户端
// 说明：推送不阻塞调用方，客户端缓冲区满时丢弃该客户端的消息
type Hub struct {
	upgrader websocket.Upgrader

	mtx     sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

// NewHub 创建推送中心
// 参数：allowedOrigins-允许的来源，为空或包含"*"时不限制
func NewHub(allowedOrigins []string) *Hub {
	open := len(allowedOrigins) == 0 || lo.Contains(allowedOrigins, "*")
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return open || origin == "" || lo.Contains(allowedOrigins, origin)
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP 升级为websocket连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Envelope, clientBuffer)}
	h.mtx.Lock()
	if h.closed {
		h.mtx.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mtx.Unlock()
	log.Debugf("websocket client %s connected", conn.RemoteAddr())

	go h.writePump(c)
	h.readPump(c)
}

// readPump 丢弃客户端消息，连接断开时注销客户端
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(e); err != nil {
			log.Debugf("websocket write: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(e Envelope) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients 已连接的客户端数
func (h *Hub) Clients() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.clients)
}

// Dropped 因客户端缓冲区满而丢弃的消息数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) RecordSignalState(r entity.SignalStateRecord) {
	h.broadcast(Envelope{Type: "signal_state", Data: r})
}

func (h *Hub) RecordDetection(r entity.DetectionRecord) {
	h.broadcast(Envelope{Type: "detection", Data: r})
}

func (h *Hub) RecordRoute(r entity.RouteRecord) {
	h.broadcast(Envelope{Type: "route", Data: r})
}

func (h *Hub) RecordSystemEvent(e entity.SystemEvent) {
	h.broadcast(Envelope{Type: "system_event", Data: e})
}
