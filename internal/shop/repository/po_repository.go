package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
)

// PurchaseOrderRepository 采购订单仓储
type PurchaseOrderRepository struct {
	db *gorm.DB
}

// NewPurchaseOrderRepository 创建采购订单仓储
func NewPurchaseOrderRepository(db *gorm.DB) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

// FindByID 根据ID查找采购订单
func (r *PurchaseOrderRepository) FindByID(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	var po entity.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

// Create 创建采购订单
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	return r.db.WithContext(ctx).Create(po).Error
}

// ListHoldable 获取可被挂起的采购订单（草稿/已发出/已确认且未被挂起）
func (r *PurchaseOrderRepository) ListHoldable(ctx context.Context, projectID string) ([]entity.PurchaseOrder, error) {
	var pos []entity.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status IN ? AND held_by_change_order_id IS NULL",
			projectID,
			[]string{entity.POStatusDraft, entity.POStatusSent, entity.POStatusConfirmed}).
		Find(&pos).Error
	return pos, err
}

// Hold 挂起采购订单，记录原状态
func (r *PurchaseOrderRepository) Hold(ctx context.Context, poID, changeOrderID, userID, previousStatus string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.PurchaseOrder{}).
		Where("id = ? AND held_by_change_order_id IS NULL", poID).
		Updates(map[string]interface{}{
			"held_by_change_order_id": changeOrderID,
			"held_at":                 now,
			"held_by":                 userID,
			"status_before_hold":      previousStatus,
			"status":                  entity.POStatusOnHold,
			"updated_at":              now,
		}).Error
}

// Release 释放挂起并恢复原状态
func (r *PurchaseOrderRepository) Release(ctx context.Context, poID, restoreStatus string) error {
	return r.db.WithContext(ctx).
		Model(&entity.PurchaseOrder{}).
		Where("id = ?", poID).
		Updates(map[string]interface{}{
			"held_by_change_order_id": nil,
			"held_at":                 nil,
			"held_by":                 nil,
			"status_before_hold":      nil,
			"status":                  restoreStatus,
			"updated_at":              time.Now(),
		}).Error
}
