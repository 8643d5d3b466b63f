// internal/services/request_serializer.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// PendingRequest 排队中的回复请求，结果通道只会收到一次结果
type PendingRequest struct {
	ID          string
	CharacterID string
	Profile     *models.CharacterProfile
	Message     string
	History     []models.ConversationTurn
	EnqueuedAt  time.Time

	result chan models.ReplyPayload
}

// ReplyGenerator 序列化器所驱动的生成器
type ReplyGenerator interface {
	Generate(ctx context.Context, req *PendingRequest) (models.ReplyPayload, error)
	Fallback(profile *models.CharacterProfile, message string) models.ReplyPayload
	Profile(characterID string) (*models.CharacterProfile, bool)
}

// RequestSerializer 以 FIFO 顺序逐个处理回复请求，任意时刻最多一个远程调用在途，
// 每个请求之后等待固定间隔。失败的请求以回退回复结束，不会阻塞后续请求。
type RequestSerializer struct {
	generator      ReplyGenerator
	delay          time.Duration
	requestTimeout time.Duration
	metrics        *utils.GameMetrics
	logger         *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	queue      []*PendingRequest
	processing bool
	stopped    bool
	wg         sync.WaitGroup
}

// NewRequestSerializer 创建序列化器。delay 为请求之间的间隔，requestTimeout 为单次远程调用上限（0 表示不限制）。
func NewRequestSerializer(generator ReplyGenerator, delay, requestTimeout time.Duration, metrics *utils.GameMetrics) *RequestSerializer {
	if metrics == nil {
		metrics = utils.NewGameMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RequestSerializer{
		generator:      generator,
		delay:          delay,
		requestTimeout: requestTimeout,
		metrics:        metrics,
		logger:         utils.GetLogger(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Enqueue 立即接收请求并返回结果通道（容量 1，恰好收到一次结果）
func (s *RequestSerializer) Enqueue(req *PendingRequest) <-chan models.ReplyPayload {
	req.result = make(chan models.ReplyPayload, 1)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = time.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		req.result <- s.generator.Fallback(req.Profile, req.Message)
		return req.result
	}

	s.queue = append(s.queue, req)
	s.metrics.SetQueueLength(len(s.queue))
	if !s.processing {
		s.processing = true
		s.wg.Add(1)
		go s.drain()
	}
	s.mu.Unlock()

	return req.result
}

// GenerateReply 为角色生成回复。未知角色得到 default 回退回复。
// 只有 ctx 先结束时才返回错误；请求本身仍会在队列中完成。
func (s *RequestSerializer) GenerateReply(ctx context.Context, characterID, message string, history []models.ConversationTurn) (models.ReplyPayload, error) {
	profile, ok := s.generator.Profile(characterID)
	if !ok {
		s.logger.Warn("Reply requested for unknown character", map[string]interface{}{
			"character_id": characterID,
		})
	}

	req := &PendingRequest{
		CharacterID: characterID,
		Profile:     profile,
		Message:     message,
		History:     append([]models.ConversationTurn(nil), history...),
	}

	select {
	case payload := <-s.Enqueue(req):
		return payload, nil
	case <-ctx.Done():
		return models.ReplyPayload{}, apperrors.NewTimeoutError(
			fmt.Sprintf("waiting for reply %s", req.ID), ctx.Err())
	}
}

// QueueLength 当前排队数量（不含在途请求）
func (s *RequestSerializer) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Processing 排空循环是否在运行
func (s *RequestSerializer) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Stop 取消在途调用，剩余请求以回退回复结束，然后等待排空循环退出
func (s *RequestSerializer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *RequestSerializer) drain() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.metrics.SetQueueLength(0)
			s.mu.Unlock()
			return
		}
		req := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		stopped := s.stopped
		s.metrics.SetQueueLength(len(s.queue))
		s.mu.Unlock()

		var payload models.ReplyPayload
		if stopped {
			payload = s.generator.Fallback(req.Profile, req.Message)
		} else {
			payload = s.process(req)
		}
		req.result <- payload

		if !stopped && s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				timer.Stop()
			}
		}
	}
}

func (s *RequestSerializer) process(req *PendingRequest) (payload models.ReplyPayload) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Reply generation panicked", map[string]interface{}{
				"request_id": req.ID,
				"panic":      r,
			})
			payload = s.generator.Fallback(req.Profile, req.Message)
		}
	}()

	ctx := s.ctx
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	payload, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("Remote reply failed, using fallback", map[string]interface{}{
			"request_id":   req.ID,
			"character_id": req.CharacterID,
			"error":        err.Error(),
			"queued_ms":    time.Since(req.EnqueuedAt).Milliseconds(),
		})
		payload = s.generator.Fallback(req.Profile, req.Message)
	}
	return payload
}
