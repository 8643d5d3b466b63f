// internal/services/response_generator.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/llm"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// ReturnGreetingInstruction 已有历史时用于生成回访问候的指令
const ReturnGreetingInstruction = "The player has returned to talk to you again. Give a brief, friendly greeting acknowledging you've met before."

const responseFormatInstructions = `IMPORTANT: You must respond in valid JSON format with this exact structure:
{
  "internal_monologue": "Your private thoughts about the situation",
  "dialogue": "What you say to the player (1-4 sentences maximum)"
}

Keep responses short and in character. Include achievement keywords naturally in dialogue when appropriate.`

// CharacterDirectory 按 id 查找角色
type CharacterDirectory interface {
	Character(id string) (*models.CharacterProfile, bool)
}

// GeneratorSettings 远程请求参数
type GeneratorSettings struct {
	Model        string
	MaxTokens    int
	Temperature  float32
	TopP         float32
	ContextTurns int
}

// ResponseGenerator 调用远程对话接口，或在不可用/失败时生成本地回退回复。
// 可用性只在构造时判断一次。
type ResponseGenerator struct {
	provider   llm.Provider
	characters CharacterDirectory
	fallback   *FallbackTable
	settings   GeneratorSettings
	metrics    *utils.GameMetrics
	logger     *utils.Logger

	available  bool
	readyState string
}

// NewResponseGenerator 创建回复生成器；provider 为 nil 表示只用回退表
func NewResponseGenerator(provider llm.Provider, characters CharacterDirectory, fallback *FallbackTable, settings GeneratorSettings, metrics *utils.GameMetrics) *ResponseGenerator {
	if fallback == nil {
		fallback = NewFallbackTable(0)
	}
	if metrics == nil {
		metrics = utils.NewGameMetrics(nil)
	}
	if settings.ContextTurns < 0 {
		settings.ContextTurns = 0
	}

	g := &ResponseGenerator{
		provider:   provider,
		characters: characters,
		fallback:   fallback,
		settings:   settings,
		metrics:    metrics,
		logger:     utils.GetLogger(),
	}

	if provider == nil {
		g.readyState = "No chat endpoint configured, using fallback replies"
	} else {
		g.available = true
		g.readyState = "Ready"
	}

	g.logger.Info("Response generator initialized", map[string]interface{}{
		"available": g.available,
		"model":     settings.Model,
	})
	return g
}

// Available 是否配置了远程接口
func (g *ResponseGenerator) Available() bool {
	return g.available
}

// ReadyState 可读的状态描述
func (g *ResponseGenerator) ReadyState() string {
	return g.readyState
}

// HasAPIKey 提供者是否持有客户端密钥
func (g *ResponseGenerator) HasAPIKey() bool {
	type keyHolder interface{ HasAPIKey() bool }
	if kh, ok := g.provider.(keyHolder); ok {
		return kh.HasAPIKey()
	}
	return false
}

// Model 远程模型名
func (g *ResponseGenerator) Model() string {
	return g.settings.Model
}

// FallbackPoolSize 回退表条目数
func (g *ResponseGenerator) FallbackPoolSize() int {
	return g.fallback.PoolSize()
}

// GeneratorStats 回复管线的状态
type GeneratorStats struct {
	Available        bool   `json:"available"`
	ReadyState       string `json:"ready_state"`
	QueueLength      int    `json:"queue_length"`
	FallbackPoolSize int    `json:"fallback_pool_size"`
	HasAPIKey        bool   `json:"has_api_key"`
	Model            string `json:"model"`
}

// QueueReporter 提供排队长度（通常是 RequestSerializer）
type QueueReporter interface {
	QueueLength() int
}

// Stats 汇总状态；queue 为 nil 时排队长度为 0
func (g *ResponseGenerator) Stats(queue QueueReporter) GeneratorStats {
	stats := GeneratorStats{
		Available:        g.available,
		ReadyState:       g.readyState,
		FallbackPoolSize: g.FallbackPoolSize(),
		HasAPIKey:        g.HasAPIKey(),
		Model:            g.settings.Model,
	}
	if queue != nil {
		stats.QueueLength = queue.QueueLength()
	}
	return stats
}

// Profile 解析角色
func (g *ResponseGenerator) Profile(characterID string) (*models.CharacterProfile, bool) {
	if g.characters == nil {
		return nil, false
	}
	return g.characters.Character(characterID)
}

// Fallback 按角色人设分类选择本地回复；profile 为 nil 时使用 default 池
func (g *ResponseGenerator) Fallback(profile *models.CharacterProfile, message string) models.ReplyPayload {
	category := CategoryDefault
	if profile != nil {
		category = InferCategory(profile.Prompt)
	}
	reply := g.fallback.Select(category, message)
	g.metrics.RecordFallback(reply.Category)
	return reply
}

// Generate 生成一条回复。未配置远程接口或角色未知时直接返回回退回复；
// 远程调用失败时返回错误，由调用方改用回退路径。
func (g *ResponseGenerator) Generate(ctx context.Context, req *PendingRequest) (models.ReplyPayload, error) {
	if req.Profile == nil || !g.available {
		return g.Fallback(req.Profile, req.Message), nil
	}

	chatReq := llm.ChatRequest{
		Model:       g.settings.Model,
		Messages:    g.BuildMessages(req.Profile, req.Message, req.History),
		MaxTokens:   g.settings.MaxTokens,
		Temperature: g.settings.Temperature,
		TopP:        g.settings.TopP,
	}

	start := time.Now()
	resp, err := g.provider.CompleteChat(ctx, chatReq)
	if err != nil {
		g.metrics.RecordLLMRequest(g.settings.Model, 0, time.Since(start), err)
		return models.ReplyPayload{}, apperrors.WrapError(err,
			fmt.Sprintf("generate reply for %s", req.CharacterID), apperrors.ErrorTypeTransport)
	}
	g.metrics.RecordLLMRequest(resp.ModelName, resp.TokensUsed, time.Since(start), nil)

	return parseRemoteContent(resp.Content), nil
}

// SystemPrompt 人设 + 输出格式约束
func (g *ResponseGenerator) SystemPrompt(profile *models.CharacterProfile) string {
	return profile.Prompt + "\n\n" + responseFormatInstructions
}

// BuildMessages 系统指令 + 最近若干轮历史（user/assistant 交替）+ 当前消息
func (g *ResponseGenerator) BuildMessages(profile *models.CharacterProfile, message string, history []models.ConversationTurn) []llm.ChatMessage {
	history = RecentTurns(history, g.settings.ContextTurns)

	messages := make([]llm.ChatMessage, 0, 2+2*len(history))
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: g.SystemPrompt(profile)})
	for _, turn := range history {
		messages = append(messages,
			llm.ChatMessage{Role: llm.RoleUser, Content: turn.Player},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: turn.Character},
		)
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: message})
	return messages
}

// RecentTurns 返回最后 n 轮（n<=0 时为空）
func RecentTurns(history []models.ConversationTurn, n int) []models.ConversationTurn {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// parseRemoteContent 严格解析双字段 JSON；不符合时保留原文交给对白提取器
func parseRemoteContent(content string) models.ReplyPayload {
	payload := models.ReplyPayload{Raw: content, Source: models.ReplySourceRemote}

	var parsed struct {
		InternalMonologue string `json:"internal_monologue"`
		Dialogue          string `json:"dialogue"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err == nil {
		payload.InternalMonologue = parsed.InternalMonologue
		payload.Dialogue = strings.TrimSpace(parsed.Dialogue)
	}
	return payload
}
