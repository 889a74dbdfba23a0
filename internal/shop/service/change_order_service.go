package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 变更单服务 — 锁定后修改受控字段的唯一合法通道
// 状态机：draft -> submitted -> approved -> applied
// draft/submitted/approved 可撤销；applied/cancelled 为终态。
// 审批时释放门禁锁并冻结在途工作，实施或撤销后重建锁并恢复。
// =============================================================================

// 错误定义
var (
	ErrUnlocksGateRequired = errors.New("变更单必须指定要解锁的门禁")
	ErrPendingExists       = errors.New("该门禁下已存在待处理变更单")
	ErrInvalidTransition   = errors.New("变更单状态不允许该操作")
	ErrLinesOnlyInDraft    = errors.New("仅草稿状态可编辑变更单行")
)

// ChangeOrderService 变更单服务
type ChangeOrderService struct {
	db       *gorm.DB
	cos      *repository.ChangeOrderRepository
	projects *repository.ProjectRepository
	gates    *repository.GateRepository
	lockSvc  *EntityLockService
	guard    *LockGuard
	bus      *EventBus
	logger   *zap.Logger
}

// NewChangeOrderService 创建变更单服务
func NewChangeOrderService(
	db *gorm.DB,
	repos *repository.Repositories,
	lockSvc *EntityLockService,
	guard *LockGuard,
	bus *EventBus,
	logger *zap.Logger,
) *ChangeOrderService {
	return &ChangeOrderService{
		db:       db,
		cos:      repos.ChangeOrder,
		projects: repos.Project,
		gates:    repos.Gate,
		lockSvc:  lockSvc,
		guard:    guard,
		bus:      bus,
		logger:   logger,
	}
}

// CreateChangeOrderRequest 创建变更单请求
type CreateChangeOrderRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	UnlocksGate string `json:"unlocks_gate" binding:"required"`
}

// AddLineRequest 添加变更单行请求
type AddLineRequest struct {
	EntityType  string       `json:"entity_type" binding:"required"`
	EntityID    string       `json:"entity_id" binding:"required"`
	FieldName   string       `json:"field_name" binding:"required"`
	NewValue    string       `json:"new_value" binding:"required"`
	PriceImpact float64      `json:"price_impact"`
	BOMImpact   entity.JSONB `json:"bom_impact"`
}

// ImpactPreview 变更影响预览
type ImpactPreview struct {
	LineCount            int          `json:"line_count"`
	PriceDelta           float64      `json:"price_delta"`
	CurrentQuotedPrice   float64      `json:"current_quoted_price"`
	ProjectedQuotedPrice float64      `json:"projected_quoted_price"`
	BOMDelta             entity.JSONB `json:"bom_delta"`
}

// Create 创建变更单（草稿）
// unlocks_gate 必填且门禁必须存在；同一项目同一门禁下最多一个待处理变更单。
func (s *ChangeOrderService) Create(ctx context.Context, projectID, userID string, req *CreateChangeOrderRequest) (*entity.ChangeOrder, error) {
	if req.UnlocksGate == "" {
		return nil, ErrUnlocksGateRequired
	}
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return nil, err
	}
	if _, err := s.gates.FindByKey(ctx, req.UnlocksGate); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("门禁 %s 不存在", req.UnlocksGate)
		}
		return nil, err
	}

	pending, err := s.cos.CountPending(ctx, projectID, req.UnlocksGate)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrPendingExists
	}

	number, err := s.cos.GenerateNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成变更单编号失败: %w", err)
	}

	reason := req.Reason
	if reason == "" {
		reason = entity.ChangeOrderReasonClientRequest
	}

	now := time.Now()
	co := &entity.ChangeOrder{
		ID:          uuid.New().String()[:32],
		Number:      number,
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Reason:      reason,
		Status:      entity.ChangeOrderStatusDraft,
		UnlocksGate: req.UnlocksGate,
		RequestedBy: userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.cos.Create(ctx, co); err != nil {
		return nil, fmt.Errorf("创建变更单失败: %w", err)
	}

	evt := NewEvent(EventChangeOrderCreated, projectID)
	evt.ChangeOrderID = co.ID
	evt.GateKey = co.UnlocksGate
	evt.Payload["number"] = co.Number
	s.bus.Publish(ctx, evt)

	s.logger.Info("变更单已创建",
		zap.String("number", co.Number),
		zap.String("project_id", projectID),
		zap.String("unlocks_gate", co.UnlocksGate))
	return co, nil
}

// Get 获取变更单（含行项与停工记录）
func (s *ChangeOrderService) Get(ctx context.Context, id string) (*entity.ChangeOrder, error) {
	return s.cos.FindByID(ctx, id)
}

// List 获取项目变更单列表
func (s *ChangeOrderService) List(ctx context.Context, projectID, status string) ([]entity.ChangeOrder, error) {
	return s.cos.List(ctx, projectID, status)
}

// AddLine 向草稿变更单添加行项
// 行记录单个字段变更，旧值在添加时从实体当前状态捕获。
func (s *ChangeOrderService) AddLine(ctx context.Context, changeOrderID, userID string, req *AddLineRequest) (*entity.ChangeOrderLine, error) {
	co, err := s.cos.FindByID(ctx, changeOrderID)
	if err != nil {
		return nil, err
	}
	if co.Status != entity.ChangeOrderStatusDraft {
		return nil, ErrLinesOnlyInDraft
	}

	oldValue, err := s.guard.FieldValue(ctx, req.EntityType, req.EntityID, req.FieldName)
	if err != nil {
		return nil, err
	}

	line := &entity.ChangeOrderLine{
		ID:            uuid.New().String()[:32],
		ChangeOrderID: co.ID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		FieldName:     req.FieldName,
		OldValue:      oldValue,
		NewValue:      req.NewValue,
		PriceImpact:   req.PriceImpact,
		BOMImpact:     req.BOMImpact,
		SortOrder:     len(co.Lines),
		CreatedAt:     time.Now(),
	}
	if err := s.cos.AddLine(ctx, line); err != nil {
		return nil, fmt.Errorf("添加变更单行失败: %w", err)
	}

	if err := s.recalcTotals(ctx, co.ID); err != nil {
		return nil, err
	}
	return line, nil
}

// Submit 提交变更单
// draft -> submitted，置项目待处理标记。
func (s *ChangeOrderService) Submit(ctx context.Context, id, userID string) (*entity.ChangeOrder, error) {
	co, err := s.cos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if co.Status != entity.ChangeOrderStatusDraft {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	co.Status = entity.ChangeOrderStatusSubmitted
	co.SubmittedAt = &now
	co.UpdatedAt = now
	if err := s.cos.Update(ctx, co); err != nil {
		return nil, fmt.Errorf("提交变更单失败: %w", err)
	}
	if err := s.projects.SetPendingChangeOrder(ctx, co.ProjectID, &co.ID); err != nil {
		return nil, err
	}

	evt := NewEvent(EventChangeOrderSubmitted, co.ProjectID)
	evt.ChangeOrderID = co.ID
	evt.GateKey = co.UnlocksGate
	evt.Payload["number"] = co.Number
	s.bus.Publish(ctx, evt)

	s.logger.Info("变更单已提交", zap.String("number", co.Number))
	return co, nil
}

// Approve 审批通过变更单
// submitted -> approved。释放对应门禁的锁；停工动作由事件监听器执行。
func (s *ChangeOrderService) Approve(ctx context.Context, id, userID, notes string) (*entity.ChangeOrder, error) {
	co, err := s.cos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !co.CanBeApproved() {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	co.Status = entity.ChangeOrderStatusApproved
	co.ApprovedBy = &userID
	co.ApprovedAt = &now
	co.ApprovalNotes = notes
	co.UpdatedAt = now
	if err := s.cos.Update(ctx, co); err != nil {
		return nil, fmt.Errorf("审批变更单失败: %w", err)
	}

	released, err := s.lockSvc.UnlockForChangeOrder(ctx, co, userID)
	if err != nil {
		return nil, err
	}

	evt := NewEvent(EventChangeOrderApproved, co.ProjectID)
	evt.ChangeOrderID = co.ID
	evt.GateKey = co.UnlocksGate
	evt.Payload["number"] = co.Number
	evt.Payload["locks_released"] = released
	s.bus.Publish(ctx, evt)

	s.logger.Info("变更单已审批",
		zap.String("number", co.Number),
		zap.Int("locks_released", released))
	return co, nil
}

// Apply 实施变更单
// approved -> applied。逐行写入新值（旁路锁检查），更新项目报价，
// 重建门禁锁并清除待处理标记；停工恢复由事件监听器执行。
func (s *ChangeOrderService) Apply(ctx context.Context, id, userID string) (*entity.ChangeOrder, error) {
	co, err := s.cos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !co.CanBeApplied() {
		return nil, ErrInvalidTransition
	}

	lines, err := s.cos.ListUnappliedLines(ctx, co.ID)
	if err != nil {
		return nil, err
	}

	bypassCtx := WithLockBypass(ctx)
	for _, line := range lines {
		err := s.guard.GuardedUpdate(bypassCtx, line.EntityType, line.EntityID, map[string]interface{}{
			line.FieldName: line.NewValue,
		})
		if err != nil {
			return nil, fmt.Errorf("实施变更单行 %s 失败: %w", line.ID, err)
		}
		if err := s.cos.MarkLineApplied(ctx, line.ID); err != nil {
			return nil, err
		}
	}

	if co.PriceDelta != 0 {
		project, err := s.projects.FindByID(ctx, co.ProjectID)
		if err != nil {
			return nil, err
		}
		err = s.projects.UpdateFields(ctx, co.ProjectID, map[string]interface{}{
			"quoted_price": project.QuotedPrice + co.PriceDelta,
		})
		if err != nil {
			return nil, fmt.Errorf("更新项目报价失败: %w", err)
		}
	}

	if _, err := s.lockSvc.RelockAfterChangeOrder(ctx, co, userID); err != nil {
		return nil, err
	}
	if err := s.projects.SetPendingChangeOrder(ctx, co.ProjectID, nil); err != nil {
		return nil, err
	}

	now := time.Now()
	co.Status = entity.ChangeOrderStatusApplied
	co.AppliedBy = &userID
	co.AppliedAt = &now
	co.UpdatedAt = now
	if err := s.cos.Update(ctx, co); err != nil {
		return nil, fmt.Errorf("标记变更单已实施失败: %w", err)
	}

	evt := NewEvent(EventChangeOrderApplied, co.ProjectID)
	evt.ChangeOrderID = co.ID
	evt.GateKey = co.UnlocksGate
	evt.Payload["number"] = co.Number
	evt.Payload["lines_applied"] = len(lines)
	s.bus.Publish(ctx, evt)

	s.logger.Info("变更单已实施",
		zap.String("number", co.Number),
		zap.Int("lines_applied", len(lines)))
	return co, nil
}

// Cancel 撤销变更单
// draft/submitted/approved -> cancelled。已审批的变更单撤销时重建锁，
// 停工恢复由事件监听器执行。
func (s *ChangeOrderService) Cancel(ctx context.Context, id, userID string) (*entity.ChangeOrder, error) {
	co, err := s.cos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if co.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	wasApproved := co.Status == entity.ChangeOrderStatusApproved
	wasPending := wasApproved || co.Status == entity.ChangeOrderStatusSubmitted

	if wasApproved {
		if _, err := s.lockSvc.RelockAfterChangeOrder(ctx, co, userID); err != nil {
			return nil, err
		}
	}
	if wasPending {
		if err := s.projects.SetPendingChangeOrder(ctx, co.ProjectID, nil); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	co.Status = entity.ChangeOrderStatusCancelled
	co.CancelledBy = &userID
	co.CancelledAt = &now
	co.UpdatedAt = now
	if err := s.cos.Update(ctx, co); err != nil {
		return nil, fmt.Errorf("撤销变更单失败: %w", err)
	}

	evt := NewEvent(EventChangeOrderCancelled, co.ProjectID)
	evt.ChangeOrderID = co.ID
	evt.GateKey = co.UnlocksGate
	evt.Payload["number"] = co.Number
	evt.Payload["stop_actions_executed"] = wasApproved
	s.bus.Publish(ctx, evt)

	s.logger.Info("变更单已撤销",
		zap.String("number", co.Number),
		zap.Bool("was_approved", wasApproved))
	return co, nil
}

// PreviewImpact 预览变更单实施后的影响（不落库）
func (s *ChangeOrderService) PreviewImpact(ctx context.Context, id string) (*ImpactPreview, error) {
	co, err := s.cos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.FindByID(ctx, co.ProjectID)
	if err != nil {
		return nil, err
	}
	return &ImpactPreview{
		LineCount:            len(co.Lines),
		PriceDelta:           co.PriceDelta,
		CurrentQuotedPrice:   project.QuotedPrice,
		ProjectedQuotedPrice: project.QuotedPrice + co.PriceDelta,
		BOMDelta:             co.BOMDelta,
	}, nil
}

// recalcTotals 重算变更单汇总（价格增量与BOM增量）
func (s *ChangeOrderService) recalcTotals(ctx context.Context, changeOrderID string) error {
	co, err := s.cos.FindByID(ctx, changeOrderID)
	if err != nil {
		return err
	}

	priceDelta := 0.0
	changes := make([]interface{}, 0, len(co.Lines))
	for _, line := range co.Lines {
		priceDelta += line.PriceImpact
		if line.BOMImpact != nil {
			changes = append(changes, map[string]interface{}{
				"line_id":     line.ID,
				"entity_type": line.EntityType,
				"entity_id":   line.EntityID,
				"impact":      map[string]interface{}(line.BOMImpact),
			})
		}
	}

	var bomDelta entity.JSONB
	if len(changes) > 0 {
		bomDelta = entity.JSONB{
			"change_count": len(changes),
			"changes":      changes,
		}
	}
	return s.cos.UpdateTotals(ctx, changeOrderID, priceDelta, bomDelta)
}
