package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 锁定守卫 — 可锁实体的统一写入口
// 所有对可锁实体的字段修改必须经过 GuardedUpdate，越过守卫的写入视为缺陷。
// =============================================================================

// LockGuard 锁定守卫
type LockGuard struct {
	db     *gorm.DB
	locks  *repository.LockRepository
	logger *zap.Logger
}

// NewLockGuard 创建锁定守卫
func NewLockGuard(db *gorm.DB, locks *repository.LockRepository, logger *zap.Logger) *LockGuard {
	return &LockGuard{db: db, locks: locks, logger: logger}
}

// CheckMutation 校验一组字段变更是否触碰活跃锁
// 锁状态在调用方给定的 tx 上读取，检查与随后的写入共享同一事务。
// 命中时返回 *LockViolationError，携带门禁与锁定级别信息。
// 上下文携带旁路标记（变更单实施路径）时直接放行。
func (g *LockGuard) CheckMutation(ctx context.Context, tx *gorm.DB, projectID, entityType string, entityID *string, changes map[string]interface{}) error {
	if lockBypassed(ctx) {
		return nil
	}
	if projectID == "" {
		return nil
	}

	locks, err := g.locks.WithTx(tx).FindActiveForEntity(ctx, projectID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("查询活跃锁失败: %w", err)
	}
	if len(locks) == 0 {
		return nil
	}

	// 取最严格的锁作为错误上下文
	strictest := locks[0]
	for _, l := range locks[1:] {
		if entity.LockLevelRank(l.LockLevel) < entity.LockLevelRank(strictest.LockLevel) {
			strictest = l
		}
	}

	var offending []string
	for field := range changes {
		for _, l := range locks {
			if IsFieldBlocked(entityType, field, l.LockLevel) {
				offending = append(offending, field)
				break
			}
		}
	}
	if len(offending) == 0 {
		return nil
	}
	sort.Strings(offending)

	g.logger.Warn("拒绝触碰锁定字段的写入",
		zap.String("project_id", projectID),
		zap.String("entity_type", entityType),
		zap.Strings("fields", offending),
		zap.String("gate", strictest.LockedByGate))

	return &LockViolationError{
		EntityType: entityType,
		EntityID:   entityID,
		Fields:     offending,
		GateKey:    strictest.LockedByGate,
		LockLevel:  strictest.LockLevel,
		LockedAt:   strictest.LockedAt,
	}
}

// GuardedUpdate 经锁检查后更新可锁实体的字段
// 字段名按白名单校验，未登记的实体类型或字段直接拒绝。
// 项目归属查询、锁检查与写入在同一事务内完成，不给检查后上锁留窗口。
func (g *LockGuard) GuardedUpdate(ctx context.Context, entityType, entityID string, changes map[string]interface{}) error {
	table, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("不支持的实体类型: %s", entityType)
	}
	allowed := mutableEntityFields[entityType]
	for field := range changes {
		if !allowed[field] {
			return fmt.Errorf("实体 %s 不允许修改字段 %s", entityType, field)
		}
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var projectID string
		err := tx.Table(table).
			Select("project_id").
			Where("id = ?", entityID).
			Scan(&projectID).Error
		if err != nil {
			return fmt.Errorf("查询实体所属项目失败: %w", err)
		}
		if projectID == "" {
			return repository.ErrNotFound
		}

		if err := g.CheckMutation(ctx, tx, projectID, entityType, &entityID, changes); err != nil {
			return err
		}

		updates := make(map[string]interface{}, len(changes)+1)
		for k, v := range changes {
			updates[k] = v
		}
		updates["updated_at"] = time.Now()
		return tx.Table(table).
			Where("id = ?", entityID).
			Updates(updates).Error
	})
}

// FieldValue 读取可锁实体的单个字段当前值（变更单行记录旧值用）
func (g *LockGuard) FieldValue(ctx context.Context, entityType, entityID, field string) (*string, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("不支持的实体类型: %s", entityType)
	}
	if !mutableEntityFields[entityType][field] {
		return nil, fmt.Errorf("实体 %s 不允许修改字段 %s", entityType, field)
	}

	var row map[string]interface{}
	err := g.db.WithContext(ctx).
		Table(table).
		Select(field).
		Where("id = ?", entityID).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	v, ok := row[field]
	if !ok || v == nil {
		return nil, nil
	}
	s := fmt.Sprintf("%v", v)
	return &s, nil
}
