// internal/services/conversation_session.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// ApologyLine 回复失败时仍然完成本轮对话所使用的文本
const ApologyLine = "I'm sorry, I seem to have lost my words for a moment..."

// SessionState 会话状态
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionOpening
	SessionActive
	SessionClosing
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionOpening:
		return "opening"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText 序列化为小写名称
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ReplySource 会话获取回复的方式（通常是 RequestSerializer）
type ReplySource interface {
	GenerateReply(ctx context.Context, characterID, message string, history []models.ConversationTurn) (models.ReplyPayload, error)
}

// TranscriptEntry 当前会话中展示给玩家的一条消息
type TranscriptEntry struct {
	Sender    string    `json:"sender"` // player 或角色 id
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenResult Open 的结果
type OpenResult struct {
	CharacterID   string `json:"character_id"`
	Greeting      string `json:"greeting,omitempty"`
	Returning     bool   `json:"returning"`
	AlreadyActive bool   `json:"already_active"`
}

// TurnResult Send 的结果。Accepted 为 false 时本轮被拒绝且没有副作用；
// Stale 为 true 时回复到达前会话已关闭，回复被丢弃。
type TurnResult struct {
	Accepted bool                 `json:"accepted"`
	Reason   string               `json:"reason,omitempty"`
	Reply    string               `json:"reply,omitempty"`
	Source   models.ReplySource   `json:"source,omitempty"`
	Stale    bool                 `json:"stale,omitempty"`
	Unlocked []models.Achievement `json:"unlocked,omitempty"`
	Victory  bool                 `json:"victory,omitempty"`
}

// SessionStatus 对外可见的会话状态
type SessionStatus struct {
	State         SessionState `json:"state"`
	CharacterID   string       `json:"character_id,omitempty"`
	MessageCount  int          `json:"message_count"`
	AwaitingReply bool         `json:"awaiting_reply"`
}

// SessionOptions 会话参数
type SessionOptions struct {
	DismissDelay time.Duration
	ContextTurns int
}

// 拒绝原因
const (
	RejectEmptyMessage = "empty_message"
	RejectNotActive    = "no_active_conversation"
	RejectTurnPending  = "turn_pending"
)

// ConversationSession 单一的对话状态机：Idle → Opening → Active → Closing → Idle。
// 任意时刻最多一个角色处于 Active；新的 Opening 必须等待上一个会话回到 Idle。
type ConversationSession struct {
	characters   CharacterDirectory
	replies      ReplySource
	extractor    *DialogueExtractor
	achievements *AchievementService
	state        *GameState
	events       *EventBus
	metrics      *utils.GameMetrics
	logger       *utils.Logger
	opts         SessionOptions

	// openMu 串行化 Open，防止两个 Opening 交错
	openMu sync.Mutex

	mu            sync.Mutex
	current       SessionState
	characterID   string
	epoch         uint64
	transcript    []TranscriptEntry
	awaitingReply bool
	idle          chan struct{} // Closing→Idle 时关闭；处于 Idle 时已关闭
}

// NewConversationSession 创建会话状态机
func NewConversationSession(
	characters CharacterDirectory,
	replies ReplySource,
	extractor *DialogueExtractor,
	achievements *AchievementService,
	state *GameState,
	events *EventBus,
	metrics *utils.GameMetrics,
	opts SessionOptions,
) *ConversationSession {
	if extractor == nil {
		extractor = NewDialogueExtractor()
	}
	if events == nil {
		events = NewEventBus()
	}
	if metrics == nil {
		metrics = utils.NewGameMetrics(nil)
	}
	if opts.ContextTurns < 0 {
		opts.ContextTurns = 0
	}

	idle := make(chan struct{})
	close(idle)

	return &ConversationSession{
		characters:   characters,
		replies:      replies,
		extractor:    extractor,
		achievements: achievements,
		state:        state,
		events:       events,
		metrics:      metrics,
		logger:       utils.GetLogger(),
		opts:         opts,
		current:      SessionIdle,
		idle:         idle,
	}
}

// Open 与角色开始对话。已与同一角色处于 Active 时为空操作；
// 与其他角色处于 Active 或 Closing 时先等待其完全关闭。
func (s *ConversationSession) Open(ctx context.Context, characterID string) (*OpenResult, error) {
	profile, ok := s.characters.Character(characterID)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("unknown character %q", characterID), nil)
	}

	s.events.Publish(models.GameEvent{Type: models.EventCharacterInteractionStarted, CharacterID: characterID})

	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.current == SessionActive && s.characterID == characterID {
		s.mu.Unlock()
		return &OpenResult{CharacterID: characterID, AlreadyActive: true}, nil
	}
	var ended *models.GameEvent
	if s.current == SessionActive {
		ended = s.beginCloseLocked()
	}
	idle := s.idle
	s.mu.Unlock()

	if ended != nil {
		s.events.Publish(*ended)
	}

	select {
	case <-idle:
	case <-ctx.Done():
		return nil, apperrors.NewTimeoutError("waiting for previous conversation to close", ctx.Err())
	}

	s.mu.Lock()
	s.current = SessionOpening
	s.characterID = characterID
	s.epoch++
	epoch := s.epoch
	s.transcript = nil
	s.awaitingReply = false
	s.idle = make(chan struct{})
	s.mu.Unlock()

	history := s.state.History(characterID)
	returning := len(history) > 0

	var payload models.ReplyPayload
	if returning {
		var err error
		payload, err = s.replies.GenerateReply(ctx, characterID, ReturnGreetingInstruction, RecentTurns(history, s.opts.ContextTurns))
		if err != nil {
			payload = FirstMeetingGreeting(profile)
		}
	} else {
		payload = FirstMeetingGreeting(profile)
	}
	greeting := s.extractor.Extract(payload)

	s.mu.Lock()
	if s.epoch != epoch || s.current != SessionOpening {
		s.mu.Unlock()
		return nil, apperrors.NewConflictError("conversation was closed while opening", nil)
	}
	s.current = SessionActive
	s.transcript = append(s.transcript, TranscriptEntry{Sender: characterID, Text: greeting, Timestamp: time.Now()})
	s.mu.Unlock()

	s.logger.Info("Conversation started", map[string]interface{}{
		"character_id": characterID,
		"returning":    returning,
		"source":       payload.Source,
	})
	s.events.Publish(models.GameEvent{
		Type:        models.EventConversationStarted,
		CharacterID: characterID,
		Data:        map[string]any{"greeting": greeting, "returning": returning},
	})

	return &OpenResult{CharacterID: characterID, Greeting: greeting, Returning: returning}, nil
}

// Send 提交玩家发言。空消息、非 Active 或已有等待中的回复时被静默拒绝。
// 等待回复期间 ctx 结束时撤回本轮并返回错误；回复到达后的存档不受 ctx 取消影响。
func (s *ConversationSession) Send(ctx context.Context, message string) (*TurnResult, error) {
	message = strings.TrimSpace(message)

	s.mu.Lock()
	switch {
	case message == "":
		s.mu.Unlock()
		return &TurnResult{Reason: RejectEmptyMessage}, nil
	case s.current != SessionActive:
		s.mu.Unlock()
		return &TurnResult{Reason: RejectNotActive}, nil
	case s.awaitingReply:
		s.mu.Unlock()
		return &TurnResult{Reason: RejectTurnPending}, nil
	}
	s.awaitingReply = true
	epoch := s.epoch
	characterID := s.characterID
	pending := len(s.transcript)
	s.transcript = append(s.transcript, TranscriptEntry{Sender: "player", Text: message, Timestamp: time.Now()})
	s.mu.Unlock()

	reply, source, err := s.requestReply(ctx, characterID, message)
	if err != nil {
		// 调用方已离开：撤回本轮，不写入历史
		s.mu.Lock()
		if s.epoch == epoch {
			s.awaitingReply = false
			if len(s.transcript) > pending {
				s.transcript = s.transcript[:pending]
			}
		}
		s.mu.Unlock()
		s.logger.Info("Turn abandoned by caller", map[string]interface{}{
			"character_id": characterID,
			"error":        err.Error(),
		})
		return nil, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Info("Ignoring reply for closed conversation", map[string]interface{}{
			"character_id": characterID,
		})
		s.metrics.RecordTurn(characterID, true)
		return &TurnResult{Accepted: true, Stale: true, Reply: reply, Source: source}, nil
	}
	s.transcript = append(s.transcript, TranscriptEntry{Sender: characterID, Text: reply, Timestamp: time.Now()})
	s.awaitingReply = false
	s.mu.Unlock()

	s.state.AddTurn(characterID, message, reply)
	s.metrics.RecordTurn(characterID, false)

	result := &TurnResult{Accepted: true, Reply: reply, Source: source}
	result.Unlocked, result.Victory = s.applyTriggers(characterID, reply, message)

	if err := s.state.Save(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Save after turn failed", map[string]interface{}{"error": err.Error()})
	}
	return result, nil
}

// requestReply 获取并提取回复；任何失败都退化为道歉文本。
// 只有 ctx 已结束时才返回错误。
func (s *ConversationSession) requestReply(ctx context.Context, characterID, message string) (reply string, source models.ReplySource, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Reply pipeline panicked", map[string]interface{}{"panic": r})
			reply, source, err = ApologyLine, models.ReplySourceApology, nil
		}
	}()

	history := s.state.RecentHistory(characterID, s.opts.ContextTurns)
	payload, genErr := s.replies.GenerateReply(ctx, characterID, message, history)
	if genErr != nil {
		if ctx.Err() != nil {
			return "", "", genErr
		}
		s.logger.Warn("Reply unavailable, apologizing", map[string]interface{}{
			"character_id": characterID,
			"error":        genErr.Error(),
		})
		return ApologyLine, models.ReplySourceApology, nil
	}
	return s.extractor.Extract(payload), payload.Source, nil
}

// applyTriggers 先匹配角色回复，再匹配玩家自己的发言，解锁并通知
func (s *ConversationSession) applyTriggers(characterID, reply, message string) ([]models.Achievement, bool) {
	if s.achievements == nil {
		return nil, false
	}

	seen := make(map[string]bool)
	var unlocked []models.Achievement
	for _, text := range []string{reply, message} {
		for _, id := range s.achievements.CheckTriggers(characterID, text) {
			if seen[id] {
				continue
			}
			seen[id] = true
			a, changed := s.achievements.Unlock(id)
			if !changed {
				continue
			}
			unlocked = append(unlocked, a)
			s.metrics.RecordUnlock(id)
			s.logger.Info("Achievement unlocked", map[string]interface{}{
				"achievement_id": id,
				"character_id":   characterID,
			})
			s.events.Publish(models.GameEvent{
				Type:          models.EventAchievementUnlocked,
				CharacterID:   characterID,
				AchievementID: id,
				Data:          map[string]any{"title": a.Title},
			})
		}
	}

	// 最后一个成就只能被解锁一次，因此胜利事件也只发一次
	victory := len(unlocked) > 0 && s.achievements.HasUnlockedAll()
	if victory {
		s.events.Publish(models.GameEvent{Type: models.EventAllAchievementsUnlocked})
	}
	return unlocked, victory
}

// Close 结束当前会话。Idle 或 Closing 时为空操作，返回 false。
// 会话立即变为非 Active，经过 DismissDelay 后回到 Idle。
func (s *ConversationSession) Close() bool {
	s.mu.Lock()
	if s.current != SessionActive && s.current != SessionOpening {
		s.mu.Unlock()
		return false
	}
	ended := s.beginCloseLocked()
	s.mu.Unlock()

	s.events.Publish(*ended)
	return true
}

// beginCloseLocked 进入 Closing 并安排回到 Idle；调用方持有 s.mu
func (s *ConversationSession) beginCloseLocked() *models.GameEvent {
	characterID := s.characterID
	messageCount := len(s.transcript)

	s.current = SessionClosing
	s.epoch++
	s.characterID = ""
	s.transcript = nil
	s.awaitingReply = false

	idle := s.idle
	epoch := s.epoch
	go s.finishClose(idle, epoch)

	s.logger.Info("Conversation closing", map[string]interface{}{
		"character_id":  characterID,
		"message_count": messageCount,
	})
	return &models.GameEvent{
		Type:        models.EventConversationEnded,
		CharacterID: characterID,
		Data:        map[string]any{"message_count": messageCount},
	}
}

func (s *ConversationSession) finishClose(idle chan struct{}, epoch uint64) {
	if s.opts.DismissDelay > 0 {
		time.Sleep(s.opts.DismissDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && s.current == SessionClosing {
		s.current = SessionIdle
	}
	close(idle)
}

// WaitIdle 等待会话完全关闭（既不 Active 也不 Closing）
func (s *ConversationSession) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.current == SessionIdle {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Status 当前状态
func (s *ConversationSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		State:         s.current,
		CharacterID:   s.characterID,
		MessageCount:  len(s.transcript),
		AwaitingReply: s.awaitingReply,
	}
}

// Transcript 当前会话的消息副本
func (s *ConversationSession) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}
