package export

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AgentSim/pkg/logger"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

// Feed 通过 websocket 向订阅者实时推送事件。慢速订阅者的缓冲区满时会被断开。
type Feed struct {
	upgrader websocket.Upgrader
	buffer   int
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewFeed 创建 Feed，buffer 为每个订阅者的待发送消息上限。
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  buffer,
		log:     logger.Named("export.feed"),
		clients: make(map[*feedClient]struct{}),
	}
}

// ServeHTTP 升级连接并注册订阅者。
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	client := &feedClient{conn: conn, send: make(chan []byte, f.buffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(client)
	f.readLoop(client)
}

// readLoop 只处理控制帧，连接断开后注销订阅者。
func (f *Feed) readLoop(c *feedClient) {
	defer f.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
	}
	f.mu.Unlock()
}

// Clients 返回当前订阅者数量。
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		f.log.Warn("事件编码失败", slog.String("type", env.Type), slog.Any("error", err))
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			delete(f.clients, c)
			c.close()
			f.log.Warn("订阅者处理过慢，已断开")
		}
	}
}

// Close 断开全部订阅者，之后的事件被丢弃。
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		c.close()
	}
	return nil
}

func (f *Feed) LogSnapshot(e SnapshotEvent) {
	f.broadcast(Envelope{Type: TypeSnapshot, Payload: e})
}

func (f *Feed) LogAction(e ActionEvent) {
	f.broadcast(Envelope{Type: TypeAction, Payload: e})
}

func (f *Feed) LogTransaction(e TransactionEvent) {
	f.broadcast(Envelope{Type: TypeTransaction, Payload: e})
}

func (f *Feed) LogDiscourse(e DiscourseEvent) {
	f.broadcast(Envelope{Type: TypeDiscourse, Payload: e})
}

var _ Sink = (*Feed)(nil)
