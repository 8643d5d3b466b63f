// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RouterOptions 路由级参数
type RouterOptions struct {
	ChatRateLimit int // 每分钟每个 IP 的代理请求数，0 表示不限制
	RateLimiter   *RateLimiter
}

// SetupRouter 配置HTTP路由
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if opts.RateLimiter == nil {
		opts.RateLimiter = NewRateLimiter()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(handler.Metrics))
	r.Use(corsMiddleware())

	// WebSocket 事件流
	r.GET("/ws/events", handler.EventsWebSocket)

	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/characters", handler.GetCharacters)
		api.GET("/achievements", handler.GetAchievements)
		api.GET("/state", handler.GetState)

		// ===============================
		// 对话
		// ===============================
		conversation := api.Group("/conversation")
		{
			conversation.POST("/open", handler.OpenConversation)
			conversation.POST("/message", handler.SendMessage)
			conversation.POST("/close", handler.CloseConversation)
			conversation.GET("/status", handler.ConversationStatus)
			conversation.GET("/history/:id", handler.ConversationHistory)
		}

		// ===============================
		// 世界与存档
		// ===============================
		world := api.Group("/world")
		{
			world.POST("/travel/:id", handler.Travel)
			world.POST("/items/:id/discover", handler.DiscoverItem)
		}

		game := api.Group("/game")
		{
			game.POST("/save", handler.SaveGame)
			game.POST("/reset", handler.ResetGame)
		}

		// 同源聊天代理；非 POST 方法由处理器返回 405
		api.Any("/chat", RateLimitByIP(opts.RateLimiter, opts.ChatRateLimit, time.Minute), handler.ChatProxy)
	}

	r.NoRoute(func(c *gin.Context) {
		handler.Response.Error(c, http.StatusNotFound, ErrorNotFound, "route not found")
	})

	return r
}
