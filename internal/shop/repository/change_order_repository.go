package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
)

// ChangeOrderRepository 变更单仓储
type ChangeOrderRepository struct {
	db *gorm.DB
}

// NewChangeOrderRepository 创建变更单仓储
func NewChangeOrderRepository(db *gorm.DB) *ChangeOrderRepository {
	return &ChangeOrderRepository{db: db}
}

// FindByID 根据ID查找变更单（含行项与停工记录）
func (r *ChangeOrderRepository) FindByID(ctx context.Context, id string) (*entity.ChangeOrder, error) {
	var co entity.ChangeOrder
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("StopActions").
		Where("id = ?", id).
		First(&co).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &co, nil
}

// FindByNumber 根据编号查找变更单
func (r *ChangeOrderRepository) FindByNumber(ctx context.Context, number string) (*entity.ChangeOrder, error) {
	var co entity.ChangeOrder
	err := r.db.WithContext(ctx).
		Where("number = ?", number).
		First(&co).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &co, nil
}

// Create 创建变更单
func (r *ChangeOrderRepository) Create(ctx context.Context, co *entity.ChangeOrder) error {
	return r.db.WithContext(ctx).Create(co).Error
}

// Update 更新变更单
func (r *ChangeOrderRepository) Update(ctx context.Context, co *entity.ChangeOrder) error {
	return r.db.WithContext(ctx).Save(co).Error
}

// List 获取项目变更单列表
func (r *ChangeOrderRepository) List(ctx context.Context, projectID string, status string) ([]entity.ChangeOrder, error) {
	var cos []entity.ChangeOrder
	q := r.db.WithContext(ctx).
		Where("project_id = ?", projectID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Find(&cos).Error
	return cos, err
}

// CountPending 统计项目在指定门禁下处于 submitted/approved 的变更单数
func (r *ChangeOrderRepository) CountPending(ctx context.Context, projectID, unlocksGate string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ChangeOrder{}).
		Where("project_id = ? AND unlocks_gate = ? AND status IN ?",
			projectID, unlocksGate,
			[]string{entity.ChangeOrderStatusSubmitted, entity.ChangeOrderStatusApproved}).
		Count(&count).Error
	return count, err
}

// AddLine 添加变更单行
func (r *ChangeOrderRepository) AddLine(ctx context.Context, line *entity.ChangeOrderLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// ListUnappliedLines 获取未实施的行项
func (r *ChangeOrderRepository) ListUnappliedLines(ctx context.Context, changeOrderID string) ([]entity.ChangeOrderLine, error) {
	var lines []entity.ChangeOrderLine
	err := r.db.WithContext(ctx).
		Where("change_order_id = ? AND is_applied = ?", changeOrderID, false).
		Order("sort_order ASC, created_at ASC").
		Find(&lines).Error
	return lines, err
}

// MarkLineApplied 标记行项已实施
func (r *ChangeOrderRepository) MarkLineApplied(ctx context.Context, lineID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.ChangeOrderLine{}).
		Where("id = ?", lineID).
		Updates(map[string]interface{}{
			"is_applied": true,
			"applied_at": now,
		}).Error
}

// UpdateTotals 更新汇总字段
func (r *ChangeOrderRepository) UpdateTotals(ctx context.Context, id string, priceDelta float64, bomDelta entity.JSONB) error {
	return r.db.WithContext(ctx).
		Model(&entity.ChangeOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"price_delta":    priceDelta,
			"bom_delta_json": bomDelta,
			"updated_at":     time.Now(),
		}).Error
}

// AddStopAction 写入停工动作审计记录
func (r *ChangeOrderRepository) AddStopAction(ctx context.Context, action *entity.ChangeOrderStopAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

// ListActiveStopActions 获取未恢复的停工动作
func (r *ChangeOrderRepository) ListActiveStopActions(ctx context.Context, changeOrderID, actionType string) ([]entity.ChangeOrderStopAction, error) {
	var actions []entity.ChangeOrderStopAction
	q := r.db.WithContext(ctx).
		Where("change_order_id = ? AND reverted_at IS NULL", changeOrderID)
	if actionType != "" {
		q = q.Where("action_type = ?", actionType)
	}
	err := q.Find(&actions).Error
	return actions, err
}

// MarkStopActionReverted 标记停工动作已恢复
func (r *ChangeOrderRepository) MarkStopActionReverted(ctx context.Context, actionID, userID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.ChangeOrderStopAction{}).
		Where("id = ? AND reverted_at IS NULL", actionID).
		Updates(map[string]interface{}{
			"reverted_at": now,
			"reverted_by": userID,
		}).Error
}

// GenerateNumber 生成变更单编号
func (r *ChangeOrderRepository) GenerateNumber(ctx context.Context) (string, error) {
	var seq int
	err := r.db.WithContext(ctx).Raw("SELECT nextval('change_order_number_seq')").Scan(&seq).Error
	if err != nil {
		return "", err
	}
	year := time.Now().Year()
	return fmt.Sprintf("CO-%d-%04d", year, seq), nil
}
