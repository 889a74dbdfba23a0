package repository

import (
	"context"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockRepository 实体锁仓储
type LockRepository struct {
	db *gorm.DB
}

// NewLockRepository 创建实体锁仓储
func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *LockRepository) WithTx(tx *gorm.DB) *LockRepository {
	return &LockRepository{db: tx}
}

// CreateIfAbsent 幂等创建锁
// 依赖 entity_locks 上的活跃锁部分唯一索引，冲突时 DO NOTHING。
// 返回 true 表示本次创建了新锁，false 表示同元组活跃锁已存在。
func (r *LockRepository) CreateIfAbsent(ctx context.Context, lock *entity.EntityLock) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(lock)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// activeQuery 活跃锁基础查询
func (r *LockRepository) activeQuery(ctx context.Context, projectID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&entity.EntityLock{}).
		Where("project_id = ? AND unlocked_at IS NULL", projectID)
}

// entityMatch 实体匹配条件：指定实体或项目级锁（entity_id 为空）
func entityMatch(q *gorm.DB, entityType string, entityID *string) *gorm.DB {
	q = q.Where("entity_type = ?", entityType)
	if entityID != nil {
		return q.Where("(entity_id IS NULL OR entity_id = ?)", *entityID)
	}
	return q.Where("entity_id IS NULL")
}

// ExistsActive 是否存在匹配的活跃锁
func (r *LockRepository) ExistsActive(ctx context.Context, projectID, entityType string, entityID *string, level string) (bool, error) {
	q := entityMatch(r.activeQuery(ctx, projectID), entityType, entityID)
	if level != "" {
		q = q.Where("(lock_level = ? OR lock_level = ?)", level, entity.LockLevelFull)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindActiveForEntity 获取实体的所有活跃锁
func (r *LockRepository) FindActiveForEntity(ctx context.Context, projectID, entityType string, entityID *string) ([]entity.EntityLock, error) {
	var locks []entity.EntityLock
	err := entityMatch(r.activeQuery(ctx, projectID), entityType, entityID).
		Find(&locks).Error
	return locks, err
}

// ListActive 获取项目的全部活跃锁
func (r *LockRepository) ListActive(ctx context.Context, projectID string) ([]entity.EntityLock, error) {
	var locks []entity.EntityLock
	err := r.activeQuery(ctx, projectID).
		Order("entity_type ASC, lock_level ASC").
		Find(&locks).Error
	return locks, err
}

// ListActiveByGate 获取某门禁施加的活跃锁
func (r *LockRepository) ListActiveByGate(ctx context.Context, projectID, gateKey string) ([]entity.EntityLock, error) {
	var locks []entity.EntityLock
	q := r.activeQuery(ctx, projectID)
	if gateKey != "" {
		q = q.Where("locked_by_gate = ?", gateKey)
	}
	err := q.Find(&locks).Error
	return locks, err
}

// Release 释放锁并记录变更单信息
func (r *LockRepository) Release(ctx context.Context, lockID, changeOrderID, userID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.EntityLock{}).
		Where("id = ? AND unlocked_at IS NULL", lockID).
		Updates(map[string]interface{}{
			"unlocked_at":            now,
			"unlocked_by":            userID,
			"unlock_change_order_id": changeOrderID,
			"updated_at":             now,
		}).Error
}
