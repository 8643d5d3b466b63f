// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/services"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// ChatForwarder 同源代理的上游
type ChatForwarder interface {
	Forward(ctx context.Context, body []byte) (int, []byte, error)
}

// Handler 处理API请求
type Handler struct {
	World        *gamedata.World
	Session      *services.ConversationSession
	Achievements *services.AchievementService
	State        *services.GameState
	WorldService *services.WorldService
	Generator    *services.ResponseGenerator
	Serializer   *services.RequestSerializer
	Metrics      *utils.GameMetrics
	Proxy        ChatForwarder // 未配置服务端密钥时为 nil
	Hub          *EventHub
	Response     *ResponseHelper

	startedAt time.Time
	logger    *utils.Logger
}

// OpenConversationRequest 开始对话
type OpenConversationRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
}

// SendMessageRequest 玩家发言
type SendMessageRequest struct {
	Message string `json:"message"`
}

// CharacterView 前端展示用的角色信息
type CharacterView struct {
	*models.CharacterProfile
	Met          bool                 `json:"met"`
	TurnCount    int                  `json:"turn_count"`
	Achievements []models.Achievement `json:"achievements"`
}

// NewHandler 创建处理器；未设置的 Response 使用默认助手
func NewHandler(h Handler) *Handler {
	if h.Response == nil {
		h.Response = NewResponseHelper()
	}
	if h.Metrics == nil {
		h.Metrics = utils.NewGameMetrics(nil)
	}
	h.startedAt = time.Now()
	h.logger = utils.GetLogger()
	return &h
}

// Health 服务与回复管线状态
func (h *Handler) Health(c *gin.Context) {
	data := gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"generator":      h.Generator.Stats(h.Serializer),
		"session":        h.Session.Status(),
	}
	if h.Hub != nil {
		data["websocket_clients"] = h.Hub.ClientCount()
	}
	h.Response.Success(c, data)
}

// GetMetrics 进程内指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// GetCharacters 所有角色及其与玩家的关系
func (h *Handler) GetCharacters(c *gin.Context) {
	profiles := h.World.Characters()
	views := make([]CharacterView, 0, len(profiles))
	for _, p := range profiles {
		history := h.State.History(p.ID)
		views = append(views, CharacterView{
			CharacterProfile: p,
			Met:              len(history) > 0,
			TurnCount:        len(history),
			Achievements:     h.Achievements.ForCharacter(p.ID),
		})
	}
	h.Response.Success(c, views)
}

// GetAchievements 成就列表与进度
func (h *Handler) GetAchievements(c *gin.Context) {
	unlocked, total := h.Achievements.Progress()
	h.Response.Success(c, gin.H{
		"achievements": h.Achievements.All(),
		"unlocked":     unlocked,
		"total":        total,
		"complete":     h.Achievements.HasUnlockedAll(),
	})
}

// GetState 当前游戏状态
func (h *Handler) GetState(c *gin.Context) {
	current := h.State.CurrentLocation()
	loc, _ := h.World.Location(current)
	h.Response.Success(c, gin.H{
		"stats":            h.State.Stats(),
		"location":         loc,
		"discovered_items": h.State.DiscoveredItems(),
		"session":          h.Session.Status(),
	})
}

// OpenConversation 与角色开始对话
func (h *Handler) OpenConversation(c *gin.Context) {
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "character_id is required", err.Error())
		return
	}

	result, err := h.Session.Open(c.Request.Context(), req.CharacterID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "character", req.CharacterID)
			return
		}
		if apperrors.IsConflictError(err) {
			h.Response.Error(c, http.StatusConflict, ErrorConversationConflict, err.Error())
			return
		}
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Success(c, result)
}

// SendMessage 玩家发言；被拒绝的发言也返回 200，accepted=false
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid message body", err.Error())
		return
	}

	result, err := h.Session.Send(c.Request.Context(), req.Message)
	if err != nil {
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Success(c, result)
}

// CloseConversation 结束当前对话
func (h *Handler) CloseConversation(c *gin.Context) {
	h.Response.Success(c, gin.H{"closed": h.Session.Close()})
}

// ConversationStatus 会话状态与本次对话记录
func (h *Handler) ConversationStatus(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":     h.Session.Status(),
		"transcript": h.Session.Transcript(),
	})
}

// ConversationHistory 某角色的持久化历史
func (h *Handler) ConversationHistory(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.World.Character(id); !ok {
		h.Response.NotFound(c, "character", id)
		return
	}
	h.Response.Success(c, h.State.History(id))
}

// Travel 移动到相邻地点
func (h *Handler) Travel(c *gin.Context) {
	result, err := h.WorldService.Travel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case apperrors.IsNotFoundError(err):
			h.Response.NotFound(c, "location", c.Param("id"))
		case apperrors.IsValidationError(err):
			h.Response.Error(c, http.StatusBadRequest, ErrorLocationUnreachable, err.Error())
		default:
			h.Response.FromError(c, err, "")
		}
		return
	}
	h.Response.Success(c, result)
}

// DiscoverItem 在当前地点发现物品
func (h *Handler) DiscoverItem(c *gin.Context) {
	item, first, err := h.WorldService.Discover(c.Request.Context(), c.Param("id"))
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "item", c.Param("id"))
			return
		}
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Success(c, gin.H{"item": item, "first_discovery": first})
}

// SaveGame 立即存档
func (h *Handler) SaveGame(c *gin.Context) {
	if err := h.State.Save(c.Request.Context()); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorSaveFailed, "save failed", err.Error())
		return
	}
	h.Response.Success(c, h.State.Stats(), "game saved")
}

// ResetGame 关闭对话并清空全部进度
func (h *Handler) ResetGame(c *gin.Context) {
	h.Session.Close()
	if err := h.Session.WaitIdle(c.Request.Context()); err != nil {
		h.Response.FromError(c, apperrors.NewTimeoutError("waiting for conversation to close", err), "")
		return
	}
	if err := h.State.Reset(c.Request.Context()); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorResetFailed, "reset failed", err.Error())
		return
	}
	h.Response.Success(c, h.State.Stats(), "game reset")
}
