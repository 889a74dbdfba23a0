package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 工作流事件总线 — 进程内同步分发
// 监听器必须幂等：投递语义为至少一次，失败按固定间隔有界重试。
// 状态变更在发布前已提交，监听器失败只记录日志，不回滚业务状态。
// =============================================================================

// 工作流事件名
const (
	EventGateEvaluated        = "gate.evaluated"
	EventGatePassed           = "gate.passed"
	EventGateFailed           = "gate.failed"
	EventLocksApplied         = "locks.applied"
	EventDesignLocked         = "locks.design_applied"
	EventProcurementLocked    = "locks.procurement_applied"
	EventProductionLocked     = "locks.production_applied"
	EventChangeOrderCreated   = "change_order.created"
	EventChangeOrderSubmitted = "change_order.submitted"
	EventChangeOrderApproved  = "change_order.approved"
	EventChangeOrderApplied   = "change_order.applied"
	EventChangeOrderCancelled = "change_order.cancelled"
)

// Event 工作流事件
type Event struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	ProjectID     string                 `json:"project_id"`
	GateKey       string                 `json:"gate_key,omitempty"`
	ChangeOrderID string                 `json:"change_order_id,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// NewEvent 创建工作流事件
func NewEvent(name, projectID string) Event {
	return Event{
		ID:         uuid.New().String()[:32],
		Name:       name,
		ProjectID:  projectID,
		Payload:    map[string]interface{}{},
		OccurredAt: time.Now(),
	}
}

// Listener 事件监听器
type Listener func(ctx context.Context, evt Event) error

type registration struct {
	name    string
	handler Listener
}

// EventBus 事件总线
type EventBus struct {
	mu        sync.RWMutex
	listeners map[string][]registration

	rdb         *redis.Client // 可为空；存在时用于跨重启的投递去重
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewEventBus 创建事件总线
// maxAttempts 为单监听器最大尝试次数，backoff 为重试间隔。
func NewEventBus(rdb *redis.Client, logger *zap.Logger, maxAttempts int, backoff time.Duration) *EventBus {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &EventBus{
		listeners:   make(map[string][]registration),
		rdb:         rdb,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Subscribe 注册监听器
// name 用于日志与去重键，同一事件下须唯一。
func (b *EventBus) Subscribe(eventName, listenerName string, handler Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventName] = append(b.listeners[eventName], registration{
		name:    listenerName,
		handler: handler,
	})
}

// Publish 同步分发事件给所有监听器
// 单个监听器重试耗尽后记录错误并继续分发其余监听器。
func (b *EventBus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	regs := b.listeners[evt.Name]
	b.mu.RUnlock()

	for _, reg := range regs {
		if b.alreadyDelivered(ctx, evt, reg.name) {
			continue
		}
		if err := b.deliver(ctx, evt, reg); err != nil {
			b.logger.Error("事件监听器重试耗尽",
				zap.String("event", evt.Name),
				zap.String("event_id", evt.ID),
				zap.String("listener", reg.name),
				zap.Error(err))
			continue
		}
		b.markDelivered(ctx, evt, reg.name)
	}
}

// deliver 有界重试投递
func (b *EventBus) deliver(ctx context.Context, evt Event, reg registration) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if lastErr = reg.handler(ctx, evt); lastErr == nil {
			return nil
		}
		b.logger.Warn("事件监听器执行失败",
			zap.String("event", evt.Name),
			zap.String("listener", reg.name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < b.maxAttempts {
			select {
			case <-time.After(b.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (b *EventBus) deliveryKey(evt Event, listenerName string) string {
	return fmt.Sprintf("shop:event:delivered:%s:%s", evt.ID, listenerName)
}

// alreadyDelivered 查询投递去重标记
func (b *EventBus) alreadyDelivered(ctx context.Context, evt Event, listenerName string) bool {
	if b.rdb == nil {
		return false
	}
	n, err := b.rdb.Exists(ctx, b.deliveryKey(evt, listenerName)).Result()
	if err != nil {
		// Redis不可用时退回仅依赖监听器自身幂等
		return false
	}
	return n > 0
}

// markDelivered 写入投递去重标记
func (b *EventBus) markDelivered(ctx context.Context, evt Event, listenerName string) {
	if b.rdb == nil {
		return
	}
	if err := b.rdb.Set(ctx, b.deliveryKey(evt, listenerName), 1, 24*time.Hour).Err(); err != nil {
		b.logger.Warn("写入事件去重标记失败", zap.Error(err))
	}
}
