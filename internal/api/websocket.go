// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

const (
	wsPingTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 64
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个事件流订阅者
type WebSocketClient struct {
	conn      WebSocketConnection
	id        string
	send      chan []byte
	lastPing  int64 // unix nano，原子读写
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, id string) *WebSocketClient {
	now := time.Now()
	return &WebSocketClient{
		conn:      conn,
		id:        id,
		send:      make(chan []byte, wsSendBuffer),
		lastPing:  now.UnixNano(),
		createdAt: now,
	}
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	last := time.Unix(0, atomic.LoadInt64(&client.lastPing))
	return time.Since(last) > timeout
}

// EventHub 把游戏事件广播给所有 WebSocket 客户端。
// 客户端集合只在 Run 所在的协程中修改，send 通道也只由它关闭。
type EventHub struct {
	clients     map[*WebSocketClient]struct{}
	broadcast   chan []byte
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	done        chan struct{}
	count       int32
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewEventHub 创建事件中心，需要调用 Run 才开始工作
func NewEventHub() *EventHub {
	return &EventHub{
		clients:     make(map[*WebSocketClient]struct{}),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *WebSocketClient, 16),
		unregister:  make(chan *WebSocketClient, 16),
		done:        make(chan struct{}),
		pingTimeout: wsPingTimeout,
		logger:      utils.GetLogger(),
	}
}

// Run 运行主循环，直到 ctx 结束
func (hub *EventHub) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()
	defer close(hub.done)

	for {
		select {
		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			atomic.StoreInt32(&hub.count, int32(len(hub.clients)))
			hub.logger.Info("WebSocket client connected", map[string]interface{}{"client_id": client.id})

		case client := <-hub.unregister:
			hub.remove(client)

		case message := <-hub.broadcast:
			for client := range hub.clients {
				select {
				case client.send <- message:
				default:
					hub.logger.Warn("WebSocket client too slow, disconnecting", map[string]interface{}{"client_id": client.id})
					hub.remove(client)
				}
			}

		case <-cleanupTicker.C:
			for client := range hub.clients {
				if client.IsExpired(hub.pingTimeout) {
					hub.remove(client)
				}
			}

		case <-ctx.Done():
			for client := range hub.clients {
				hub.remove(client)
			}
			hub.logger.Info("WebSocket hub stopped", nil)
			return
		}
	}
}

func (hub *EventHub) remove(client *WebSocketClient) {
	if _, ok := hub.clients[client]; !ok {
		return
	}
	delete(hub.clients, client)
	close(client.send)
	atomic.StoreInt32(&hub.count, int32(len(hub.clients)))
	hub.logger.Info("WebSocket client disconnected", map[string]interface{}{"client_id": client.id})
}

// Register 加入客户端；hub 已停止时返回 false
func (hub *EventHub) Register(client *WebSocketClient) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

// Unregister 移除客户端；hub 已停止时立即返回
func (hub *EventHub) Unregister(client *WebSocketClient) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

// Broadcast 序列化并广播；队列满时丢弃
func (hub *EventHub) Broadcast(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		hub.logger.Error("Failed to encode broadcast", map[string]interface{}{"error": err.Error()})
		return
	}
	select {
	case hub.broadcast <- msg:
	default:
		hub.logger.Warn("Broadcast queue full, event dropped", nil)
	}
}

// Forward 把事件总线上的事件转发给所有客户端，直到 ctx 结束或通道关闭
func (hub *EventHub) Forward(ctx context.Context, events <-chan models.GameEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			hub.Broadcast(ev)
		}
	}
}

// ClientCount 当前连接数
func (hub *EventHub) ClientCount() int {
	return int(atomic.LoadInt32(&hub.count))
}

// Done hub 停止后关闭
func (hub *EventHub) Done() <-chan struct{} {
	return hub.done
}
