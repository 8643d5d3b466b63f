// internal/services/event_bus.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// EventBus 向订阅者广播游戏事件。发送是非阻塞的，缓冲区满的订阅者会丢失该事件。
type EventBus struct {
	mutex       sync.Mutex
	subscribers map[chan models.GameEvent]bool
	closed      bool
	logger      *utils.Logger
	now         func() time.Time
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[chan models.GameEvent]bool),
		logger:      utils.GetLogger(),
		now:         time.Now,
	}
}

// Subscribe 订阅事件；返回的函数用于取消订阅并关闭通道
func (b *EventBus) Subscribe(buffer int) (<-chan models.GameEvent, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	subscriber := make(chan models.GameEvent, buffer)

	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		close(subscriber)
		return subscriber, func() {}
	}
	b.subscribers[subscriber] = true
	b.mutex.Unlock()

	var once sync.Once
	return subscriber, func() {
		once.Do(func() { b.unsubscribe(subscriber) })
	}
}

func (b *EventBus) unsubscribe(subscriber chan models.GameEvent) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.subscribers[subscriber]; !ok {
		return
	}
	delete(b.subscribers, subscriber)
	close(subscriber)
}

// Publish 发布事件；未设置时间戳时自动补上
func (b *EventBus) Publish(event models.GameEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	for subscriber := range b.subscribers {
		select {
		case subscriber <- event:
		default:
			b.logger.Warn("Event subscriber is full, dropping event", map[string]interface{}{
				"type": event.Type,
			})
		}
	}
}

// SubscriberCount 当前订阅者数量
func (b *EventBus) SubscriberCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subscribers)
}

// Close 关闭所有订阅通道，之后的 Publish 不再投递
func (b *EventBus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = make(map[chan models.GameEvent]bool)
}
