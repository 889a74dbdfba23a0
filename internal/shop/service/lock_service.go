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
	"gorm.io/gorm/clause"
)

// =============================================================================
// 实体锁服务 — 门禁通过时施加锁、变更单流程中释放与重建锁
// 锁记录只追加：释放通过打时间戳完成，从不删除行。
// =============================================================================

// EntityLockService 实体锁服务
type EntityLockService struct {
	db       *gorm.DB
	locks    *repository.LockRepository
	projects *repository.ProjectRepository
	gates    *repository.GateRepository
	archiver *SnapshotArchiver
	bus      *EventBus
	logger   *zap.Logger
}

// NewEntityLockService 创建实体锁服务
func NewEntityLockService(
	db *gorm.DB,
	repos *repository.Repositories,
	archiver *SnapshotArchiver,
	bus *EventBus,
	logger *zap.Logger,
) *EntityLockService {
	return &EntityLockService{
		db:       db,
		locks:    repos.Lock,
		projects: repos.Project,
		gates:    repos.Gate,
		archiver: archiver,
		bus:      bus,
		logger:   logger,
	}
}

// LockInfo 项目锁定状态汇总
type LockInfo struct {
	DesignLockedAt      *time.Time          `json:"design_locked_at"`
	ProcurementLockedAt *time.Time          `json:"procurement_locked_at"`
	ProductionLockedAt  *time.Time          `json:"production_locked_at"`
	ActiveLocks         []entity.EntityLock `json:"active_locks"`
}

// ApplyGateLocks 按门禁配置施加锁定类别
// 同一事务内锁定项目行、创建锁记录、盖项目锁定时间戳并固化快照。
// 重复调用幂等：已存在的活跃锁不再创建，已盖的时间戳与快照不再覆盖。
// 返回本次新建的锁。
func (s *EntityLockService) ApplyGateLocks(ctx context.Context, projectID string, gate *entity.Gate, userID string) ([]entity.EntityLock, error) {
	var created []entity.EntityLock
	createdByCategory := map[string]int{}
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 项目行加排他锁，并发通过同一门禁时只有一方能固化快照
		var project entity.Project
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", projectID).
			First(&project).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return err
		}

		txLocks := s.locks.WithTx(tx)
		stamps := map[string]interface{}{}

		for _, category := range gateCategories(gate) {
			locks, err := createCategoryLocks(ctx, txLocks, projectID, category, gate.GateKey, userID, now)
			if err != nil {
				return err
			}
			created = append(created, locks...)
			createdByCategory[category] = len(locks)

			switch category {
			case LockCategoryDesign:
				if project.DesignLockedAt == nil {
					stamps["design_locked_at"] = now
					stamps["design_locked_by"] = userID
				}
				// 报价与BOM快照都在设计锁定时固化
				if project.PricingSnapshot == nil {
					snap, err := s.buildPricingSnapshot(ctx, &project, now)
					if err != nil {
						return err
					}
					stamps["pricing_snapshot_json"] = snap
				}
				if project.BOMSnapshot == nil {
					snap, err := s.buildBOMSnapshot(ctx, projectID, now)
					if err != nil {
						return err
					}
					stamps["bom_snapshot_json"] = snap
				}
			case LockCategoryProcurement:
				if project.ProcurementLockedAt == nil {
					stamps["procurement_locked_at"] = now
					stamps["procurement_locked_by"] = userID
				}
			case LockCategoryProduction:
				if project.ProductionLockedAt == nil {
					stamps["production_locked_at"] = now
					stamps["production_locked_by"] = userID
				}
			}
		}

		if len(stamps) == 0 {
			return nil
		}
		stamps["updated_at"] = now
		return tx.Model(&entity.Project{}).
			Where("id = ?", projectID).
			Updates(stamps).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("施加门禁锁定失败: %w", err)
	}

	s.logger.Info("门禁锁定已施加",
		zap.String("project_id", projectID),
		zap.String("gate", gate.GateKey),
		zap.Int("locks_created", len(created)))

	// 快照归档尽力而为，失败只记录日志
	s.archiveProjectSnapshots(ctx, projectID)

	if len(created) > 0 {
		evt := NewEvent(EventLocksApplied, projectID)
		evt.GateKey = gate.GateKey
		evt.Payload["locks_created"] = len(created)
		s.bus.Publish(ctx, evt)

		for category, count := range createdByCategory {
			if count == 0 {
				continue
			}
			evt := NewEvent(lockCategoryEvent(category), projectID)
			evt.GateKey = gate.GateKey
			evt.Payload["category"] = category
			evt.Payload["locks_created"] = count
			s.bus.Publish(ctx, evt)
		}
	}
	return created, nil
}

// IsLocked 查询实体是否存在匹配级别的活跃锁（FULL 覆盖所有级别）
func (s *EntityLockService) IsLocked(ctx context.Context, projectID, entityType string, entityID *string, level string) (bool, error) {
	return s.locks.ExistsActive(ctx, projectID, entityType, entityID, level)
}

// IsFieldLocked 查询实体的某字段是否被活跃锁冻结
func (s *EntityLockService) IsFieldLocked(ctx context.Context, projectID, entityType string, entityID *string, field string) (bool, error) {
	locks, err := s.locks.FindActiveForEntity(ctx, projectID, entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, l := range locks {
		if IsFieldBlocked(entityType, field, l.LockLevel) {
			return true, nil
		}
	}
	return false, nil
}

// GetLockInfo 获取项目锁定状态汇总
func (s *EntityLockService) GetLockInfo(ctx context.Context, projectID string) (*LockInfo, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	locks, err := s.locks.ListActive(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &LockInfo{
		DesignLockedAt:      project.DesignLockedAt,
		ProcurementLockedAt: project.ProcurementLockedAt,
		ProductionLockedAt:  project.ProductionLockedAt,
		ActiveLocks:         locks,
	}, nil
}

// UnlockForChangeOrder 释放变更单对应门禁的全部活跃锁
// 锁行打上释放时间与变更单ID，保留完整审计轨迹。返回释放数量。
func (s *EntityLockService) UnlockForChangeOrder(ctx context.Context, co *entity.ChangeOrder, userID string) (int, error) {
	locks, err := s.locks.ListActiveByGate(ctx, co.ProjectID, co.UnlocksGate)
	if err != nil {
		return 0, err
	}

	released := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txLocks := s.locks.WithTx(tx)
		for _, l := range locks {
			if err := txLocks.Release(ctx, l.ID, co.ID, userID); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("释放门禁锁定失败: %w", err)
	}

	s.logger.Info("变更单释放门禁锁定",
		zap.String("project_id", co.ProjectID),
		zap.String("change_order", co.Number),
		zap.String("gate", co.UnlocksGate),
		zap.Int("released", released))
	return released, nil
}

// RelockAfterChangeOrder 变更单实施或撤销后重建门禁锁定
// 只重建锁行，不重盖时间戳与快照（二者只追加）。返回新建数量。
func (s *EntityLockService) RelockAfterChangeOrder(ctx context.Context, co *entity.ChangeOrder, userID string) (int, error) {
	gate, err := s.gates.FindByKey(ctx, co.UnlocksGate)
	if err != nil {
		return 0, fmt.Errorf("查找门禁 %s 失败: %w", co.UnlocksGate, err)
	}

	now := time.Now()
	created := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txLocks := s.locks.WithTx(tx)
		for _, category := range gateCategories(gate) {
			locks, err := createCategoryLocks(ctx, txLocks, co.ProjectID, category, gate.GateKey, userID, now)
			if err != nil {
				return err
			}
			created += len(locks)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("重建门禁锁定失败: %w", err)
	}

	s.logger.Info("变更单后重建门禁锁定",
		zap.String("project_id", co.ProjectID),
		zap.String("change_order", co.Number),
		zap.String("gate", co.UnlocksGate),
		zap.Int("created", created))
	return created, nil
}

// lockCategoryEvent 锁定类别对应的事件名
func lockCategoryEvent(category string) string {
	switch category {
	case LockCategoryDesign:
		return EventDesignLocked
	case LockCategoryProcurement:
		return EventProcurementLocked
	case LockCategoryProduction:
		return EventProductionLocked
	}
	return EventLocksApplied
}

// gateCategories 门禁激活的锁定类别
func gateCategories(gate *entity.Gate) []string {
	var categories []string
	if gate.AppliesDesignLock {
		categories = append(categories, LockCategoryDesign)
	}
	if gate.AppliesProcurementLock {
		categories = append(categories, LockCategoryProcurement)
	}
	if gate.AppliesProductionLock {
		categories = append(categories, LockCategoryProduction)
	}
	return categories
}

// createCategoryLocks 为锁定类别创建项目级锁（entity_id 为空）
// 依赖部分唯一索引幂等，已存在的活跃锁静默跳过。
func createCategoryLocks(ctx context.Context, locks *repository.LockRepository, projectID, category, gateKey, userID string, now time.Time) ([]entity.EntityLock, error) {
	targets, ok := lockCategoryTargets[category]
	if !ok {
		return nil, fmt.Errorf("未知锁定类别: %s", category)
	}

	var created []entity.EntityLock
	for _, entityType := range targets.EntityTypes {
		lock := entity.EntityLock{
			ID:           uuid.New().String()[:32],
			ProjectID:    projectID,
			EntityType:   entityType,
			EntityID:     nil,
			LockLevel:    targets.Level,
			LockedByGate: gateKey,
			LockedAt:     now,
			LockedBy:     userID,
		}
		inserted, err := locks.CreateIfAbsent(ctx, &lock)
		if err != nil {
			return nil, err
		}
		if inserted {
			created = append(created, lock)
		}
	}
	return created, nil
}

// buildPricingSnapshot 设计锁定时固化报价快照
func (s *EntityLockService) buildPricingSnapshot(ctx context.Context, project *entity.Project, now time.Time) (entity.JSONB, error) {
	rooms, err := s.projects.ListRooms(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	roomRows := make([]interface{}, 0, len(rooms))
	totalQuoted := 0.0
	for _, room := range rooms {
		totalQuoted += room.QuotedPrice
		roomRows = append(roomRows, map[string]interface{}{
			"id":                room.ID,
			"name":              room.Name,
			"quoted_price":      room.QuotedPrice,
			"estimated_value":   room.EstimatedValue,
			"total_linear_feet": room.TotalLinearFeet,
		})
	}
	return entity.JSONB{
		"captured_at":       now.Format(time.RFC3339),
		"quoted_price":      project.QuotedPrice,
		"room_total_quoted": totalQuoted,
		"rooms":             roomRows,
	}, nil
}

// buildBOMSnapshot 采购锁定时固化BOM快照
func (s *EntityLockService) buildBOMSnapshot(ctx context.Context, projectID string, now time.Time) (entity.JSONB, error) {
	lines, err := s.projects.ListBomLines(ctx, projectID)
	if err != nil {
		return nil, err
	}

	lineRows := make([]interface{}, 0, len(lines))
	totalCost := 0.0
	for _, line := range lines {
		totalCost += line.TotalMaterialCost
		lineRows = append(lineRows, map[string]interface{}{
			"id":                  line.ID,
			"component_name":      line.ComponentName,
			"material_code":       line.MaterialCode,
			"quantity_required":   line.QuantityRequired,
			"unit_of_measure":     line.UnitOfMeasure,
			"unit_cost":           line.UnitCost,
			"total_material_cost": line.TotalMaterialCost,
		})
	}
	return entity.JSONB{
		"captured_at":         now.Format(time.RFC3339),
		"line_count":          len(lines),
		"total_material_cost": totalCost,
		"lines":               lineRows,
	}, nil
}

// archiveProjectSnapshots 将项目当前快照归档到对象存储
func (s *EntityLockService) archiveProjectSnapshots(ctx context.Context, projectID string) {
	if s.archiver == nil {
		return
	}
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		s.logger.Warn("归档快照时读取项目失败", zap.Error(err))
		return
	}
	if project.PricingSnapshot != nil {
		s.archiver.Archive(ctx, projectID, "pricing", project.PricingSnapshot)
	}
	if project.BOMSnapshot != nil {
		s.archiver.Archive(ctx, projectID, "bom", project.BOMSnapshot)
	}
}
