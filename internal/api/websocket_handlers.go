// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventsWebSocket 升级为 WebSocket 并推送所有游戏事件
func (h *Handler) EventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newWebSocketClient(conn, uuid.NewString())

	// 欢迎消息在注册前写入缓冲，之后只有 hub 会写 send
	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"client_id": client.id,
		"session":   h.Session.Status(),
		"timestamp": time.Now(),
	})
	client.send <- welcome

	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	go h.writeEvents(client)
	h.readUntilClosed(client)
	h.Hub.Unregister(client)
}

// readUntilClosed 只用于保活与检测断开，客户端发来的内容被忽略
func (h *Handler) readUntilClosed(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read ended", map[string]interface{}{
					"client_id": client.id,
					"error":     err.Error(),
				})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPingTimeout))
	}
}

// writeEvents 把 send 通道中的消息写出，并定期 ping；send 被 hub 关闭后退出
func (h *Handler) writeEvents(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("WebSocket write failed", map[string]interface{}{
					"client_id": client.id,
					"error":     err.Error(),
				})
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
