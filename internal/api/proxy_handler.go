// internal/api/proxy_handler.go
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxProxyBody = 1 << 20

// ChatProxy 同源聊天代理：原样转发到上游，由服务端注入密钥与标识头。
// 上游非 2xx 时返回 {error, status} 并沿用上游状态码，其余失败统一 500。
func (h *Handler) ChatProxy(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	if h.Proxy == nil {
		h.logger.Error("Chat proxy called without a server-side API key", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
	if err != nil || !json.Valid(body) {
		h.logger.Warn("Chat proxy received an unreadable body", map[string]interface{}{
			"request_id": c.GetString(requestIDKey),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Proxying chat request", map[string]interface{}{"request_id": c.GetString(requestIDKey)})
	status, respBody, err := h.Proxy.Forward(c.Request.Context(), body)
	if err != nil {
		h.logger.Error("Chat proxy upstream call failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if status < 200 || status >= 300 {
		h.logger.Warn("Chat proxy upstream error", map[string]interface{}{"status": status})
		c.JSON(status, gin.H{"error": proxyErrorMessage(respBody), "status": status})
		return
	}

	if !json.Valid(respBody) {
		h.logger.Error("Chat proxy upstream returned invalid JSON", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", respBody)
}

func proxyErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return "API request failed"
}
