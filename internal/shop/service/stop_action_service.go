package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"go.uber.org/zap"
)

// =============================================================================
// 停工动作服务 — 变更单审批后冻结在途工作，实施或撤销后精确恢复
// 每个动作写一条审计记录并保存执行前状态，恢复按记录逐条逆向执行。
// 所有子动作幂等，部分完成后重跑安全。
// =============================================================================

// StopActionService 停工动作服务
type StopActionService struct {
	cos      *repository.ChangeOrderRepository
	tasks    *repository.TaskRepository
	pos      *repository.PurchaseOrderRepository
	projects *repository.ProjectRepository
	logger   *zap.Logger
}

// NewStopActionService 创建停工动作服务
func NewStopActionService(repos *repository.Repositories, logger *zap.Logger) *StopActionService {
	return &StopActionService{
		cos:      repos.ChangeOrder,
		tasks:    repos.Task,
		pos:      repos.PurchaseOrder,
		projects: repos.Project,
		logger:   logger,
	}
}

// StopActionSummary 停工执行结果
type StopActionSummary struct {
	TasksBlocked    int  `json:"tasks_blocked"`
	POsHeld         int  `json:"pos_held"`
	DeliveryBlocked bool `json:"delivery_blocked"`
}

// RevertSummary 停工恢复结果
type RevertSummary struct {
	TasksUnblocked    int  `json:"tasks_unblocked"`
	POsReleased       int  `json:"pos_released"`
	DeliveryUnblocked bool `json:"delivery_unblocked"`
}

// Execute 执行变更单的停工动作
// 冻结范围：活跃任务、在途采购订单、交付放行标记。
// 重复执行幂等：已冻结对象不会产生第二条审计记录。
func (s *StopActionService) Execute(ctx context.Context, co *entity.ChangeOrder, userID string) (*StopActionSummary, error) {
	summary := &StopActionSummary{}
	now := time.Now()

	tasks, err := s.tasks.ListBlockable(ctx, co.ProjectID)
	if err != nil {
		return summary, fmt.Errorf("查询可停工任务失败: %w", err)
	}
	for _, task := range tasks {
		if err := s.tasks.Block(ctx, task.ID, co.ID, task.Status); err != nil {
			return summary, fmt.Errorf("停工任务 %s 失败: %w", task.ID, err)
		}
		if err := s.recordAction(ctx, co.ID, entity.StopActionTypeTaskBlocked,
			"Task", task.ID, task.Status, entity.TaskStatusBlocked, userID, now); err != nil {
			return summary, err
		}
		summary.TasksBlocked++
	}

	pos, err := s.pos.ListHoldable(ctx, co.ProjectID)
	if err != nil {
		return summary, fmt.Errorf("查询可挂起采购订单失败: %w", err)
	}
	for _, po := range pos {
		if err := s.pos.Hold(ctx, po.ID, co.ID, userID, po.Status); err != nil {
			return summary, fmt.Errorf("挂起采购订单 %s 失败: %w", po.ID, err)
		}
		if err := s.recordAction(ctx, co.ID, entity.StopActionTypePOHeld,
			"PurchaseOrder", po.ID, po.Status, entity.POStatusOnHold, userID, now); err != nil {
			return summary, err
		}
		summary.POsHeld++
	}

	project, err := s.projects.FindByID(ctx, co.ProjectID)
	if err != nil {
		return summary, err
	}
	if !project.DeliveryBlocked {
		if err := s.projects.SetDeliveryBlocked(ctx, co.ProjectID, true); err != nil {
			return summary, fmt.Errorf("阻塞交付失败: %w", err)
		}
		if err := s.recordAction(ctx, co.ID, entity.StopActionTypeDeliveryBlocked,
			"Project", co.ProjectID, "unblocked", "blocked", userID, now); err != nil {
			return summary, err
		}
		summary.DeliveryBlocked = true
	}

	s.logger.Info("变更单停工动作已执行",
		zap.String("change_order", co.Number),
		zap.Int("tasks_blocked", summary.TasksBlocked),
		zap.Int("pos_held", summary.POsHeld),
		zap.Bool("delivery_blocked", summary.DeliveryBlocked))
	return summary, nil
}

// Revert 恢复变更单的停工动作
// 按审计记录逐条恢复到执行前状态，已恢复的记录自动跳过。
func (s *StopActionService) Revert(ctx context.Context, co *entity.ChangeOrder, userID string) (*RevertSummary, error) {
	summary := &RevertSummary{}

	actions, err := s.cos.ListActiveStopActions(ctx, co.ID, "")
	if err != nil {
		return summary, fmt.Errorf("查询停工记录失败: %w", err)
	}

	for _, action := range actions {
		switch action.ActionType {
		case entity.StopActionTypeTaskBlocked:
			if err := s.tasks.Unblock(ctx, action.EntityID, action.PreviousState); err != nil {
				return summary, fmt.Errorf("恢复任务 %s 失败: %w", action.EntityID, err)
			}
			summary.TasksUnblocked++

		case entity.StopActionTypePOHeld:
			if err := s.pos.Release(ctx, action.EntityID, action.PreviousState); err != nil {
				return summary, fmt.Errorf("释放采购订单 %s 失败: %w", action.EntityID, err)
			}
			summary.POsReleased++

		case entity.StopActionTypeDeliveryBlocked:
			if err := s.projects.SetDeliveryBlocked(ctx, action.EntityID, false); err != nil {
				return summary, fmt.Errorf("恢复交付失败: %w", err)
			}
			summary.DeliveryUnblocked = true

		default:
			s.logger.Warn("未知停工动作类型，跳过",
				zap.String("action_type", action.ActionType),
				zap.String("action_id", action.ID))
			continue
		}

		if err := s.cos.MarkStopActionReverted(ctx, action.ID, userID); err != nil {
			return summary, fmt.Errorf("标记停工记录已恢复失败: %w", err)
		}
	}

	s.logger.Info("变更单停工动作已恢复",
		zap.String("change_order", co.Number),
		zap.Int("tasks_unblocked", summary.TasksUnblocked),
		zap.Int("pos_released", summary.POsReleased),
		zap.Bool("delivery_unblocked", summary.DeliveryUnblocked))
	return summary, nil
}

// recordAction 写入停工动作审计记录
func (s *StopActionService) recordAction(ctx context.Context, changeOrderID, actionType, entityType, entityID, previousState, newState, userID string, now time.Time) error {
	return s.cos.AddStopAction(ctx, &entity.ChangeOrderStopAction{
		ID:            uuid.New().String()[:32],
		ChangeOrderID: changeOrderID,
		ActionType:    actionType,
		EntityType:    entityType,
		EntityID:      entityID,
		PreviousState: previousState,
		NewState:      newState,
		PerformedBy:   userID,
		PerformedAt:   now,
		CreatedAt:     now,
	})
}
