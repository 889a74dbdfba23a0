package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"go.uber.org/zap"
)

// =============================================================================
// 通知器 — 变更单关键节点推送到外部渠道（webhook）
// 未配置webhook时退化为结构化日志，流程不依赖通知成功。
// =============================================================================

// Notifier 工作流通知接口
type Notifier interface {
	NotifySubmitted(ctx context.Context, co *entity.ChangeOrder) error
	NotifyApproved(ctx context.Context, co *entity.ChangeOrder, summary *StopActionSummary) error
	NotifyApplied(ctx context.Context, co *entity.ChangeOrder, summary *RevertSummary) error
	NotifyCancelled(ctx context.Context, co *entity.ChangeOrder, stopActionsReverted bool) error
}

// WebhookNotifier 通过webhook发送通知
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier 创建webhook通知器
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// NotifySubmitted 变更单提交通知
func (n *WebhookNotifier) NotifySubmitted(ctx context.Context, co *entity.ChangeOrder) error {
	return n.post(ctx, map[string]interface{}{
		"event":        "change_order_submitted",
		"number":       co.Number,
		"title":        co.Title,
		"project_id":   co.ProjectID,
		"unlocks_gate": co.UnlocksGate,
		"requested_by": co.RequestedBy,
	})
}

// NotifyApproved 变更单审批通知（含停工执行结果）
func (n *WebhookNotifier) NotifyApproved(ctx context.Context, co *entity.ChangeOrder, summary *StopActionSummary) error {
	payload := map[string]interface{}{
		"event":      "change_order_approved",
		"number":     co.Number,
		"title":      co.Title,
		"project_id": co.ProjectID,
	}
	if summary != nil {
		payload["tasks_blocked"] = summary.TasksBlocked
		payload["pos_held"] = summary.POsHeld
		payload["delivery_blocked"] = summary.DeliveryBlocked
	}
	return n.post(ctx, payload)
}

// NotifyApplied 变更单实施通知（含停工恢复结果）
func (n *WebhookNotifier) NotifyApplied(ctx context.Context, co *entity.ChangeOrder, summary *RevertSummary) error {
	payload := map[string]interface{}{
		"event":       "change_order_applied",
		"number":      co.Number,
		"title":       co.Title,
		"project_id":  co.ProjectID,
		"price_delta": co.PriceDelta,
	}
	if summary != nil {
		payload["tasks_unblocked"] = summary.TasksUnblocked
		payload["pos_released"] = summary.POsReleased
		payload["delivery_unblocked"] = summary.DeliveryUnblocked
	}
	return n.post(ctx, payload)
}

// NotifyCancelled 变更单撤销通知
func (n *WebhookNotifier) NotifyCancelled(ctx context.Context, co *entity.ChangeOrder, stopActionsReverted bool) error {
	return n.post(ctx, map[string]interface{}{
		"event":                 "change_order_cancelled",
		"number":                co.Number,
		"title":                 co.Title,
		"project_id":            co.ProjectID,
		"stop_actions_reverted": stopActionsReverted,
	})
}

// post 发送webhook请求
func (n *WebhookNotifier) post(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知内容失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送webhook通知失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook返回异常状态码: %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier 日志通知器（未配置webhook时使用）
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifySubmitted(ctx context.Context, co *entity.ChangeOrder) error {
	n.logger.Info("通知：变更单已提交", zap.String("number", co.Number))
	return nil
}

func (n *LogNotifier) NotifyApproved(ctx context.Context, co *entity.ChangeOrder, summary *StopActionSummary) error {
	n.logger.Info("通知：变更单已审批", zap.String("number", co.Number))
	return nil
}

func (n *LogNotifier) NotifyApplied(ctx context.Context, co *entity.ChangeOrder, summary *RevertSummary) error {
	n.logger.Info("通知：变更单已实施", zap.String("number", co.Number))
	return nil
}

func (n *LogNotifier) NotifyCancelled(ctx context.Context, co *entity.ChangeOrder, stopActionsReverted bool) error {
	n.logger.Info("通知：变更单已撤销", zap.String("number", co.Number))
	return nil
}
