package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
)

// =============================================================================
// 锁定策略 — 各实体类型在不同锁级别下被冻结的字段
// 策略以查表方式表达，新增可锁实体只需登记表项。
// =============================================================================

// 锁定类别（门禁通过时按类别批量施加锁）
const (
	LockCategoryDesign      = "design"
	LockCategoryProcurement = "procurement"
	LockCategoryProduction  = "production"
)

// lockCategoryTargets 各锁定类别覆盖的实体类型与锁级别
var lockCategoryTargets = map[string]struct {
	EntityTypes []string
	Level       string
}{
	LockCategoryDesign: {
		EntityTypes: []string{
			entity.EntityTypeCabinet,
			entity.EntityTypeCabinetSection,
			entity.EntityTypeDoor,
			entity.EntityTypeDrawer,
			entity.EntityTypeShelf,
			entity.EntityTypePullout,
		},
		Level: entity.LockLevelFull,
	},
	LockCategoryProcurement: {
		EntityTypes: []string{entity.EntityTypeBomLine},
		Level:       entity.LockLevelFull,
	},
	LockCategoryProduction: {
		EntityTypes: []string{
			entity.EntityTypeCabinet,
			entity.EntityTypeCabinetSection,
			entity.EntityTypeDoor,
			entity.EntityTypeDrawer,
		},
		Level: entity.LockLevelDimensions,
	},
}

// exemptFields 任意锁级别下均可修改的字段（质检结果、备注、时间戳）
var exemptFields = map[string]bool{
	"qc_status":  true,
	"qc_notes":   true,
	"shop_notes": true,
	"notes":      true,
	"sort_order": true,
	"created_at": true,
	"updated_at": true,
}

// dimensionFields 各实体类型在 dimensions 级别下冻结的字段
var dimensionFields = map[string]map[string]bool{
	entity.EntityTypeCabinet: {
		"width_inches":  true,
		"height_inches": true,
		"depth_inches":  true,
	},
	entity.EntityTypeCabinetSection: {
		"width_inches":  true,
		"height_inches": true,
	},
	entity.EntityTypeDoor: {
		"width_inches":  true,
		"height_inches": true,
	},
	entity.EntityTypeDrawer: {
		"width_inches":  true,
		"height_inches": true,
		"depth_inches":  true,
	},
}

// materialFields 各实体类型在 materials 级别下冻结的字段
var materialFields = map[string]map[string]bool{
	entity.EntityTypeCabinet: {
		"box_material":  true,
		"finish_type":   true,
		"edge_banding":  true,
		"hardware_spec": true,
	},
	entity.EntityTypePullout: {
		"hardware_spec": true,
	},
	entity.EntityTypeBomLine: {
		"material_code":  true,
		"component_name": true,
		"unit_cost":      true,
	},
}

// entityTables 可锁实体对应的数据表（字段按表名单校验，防止拼接注入）
var entityTables = map[string]string{
	entity.EntityTypeCabinet:        "cabinets",
	entity.EntityTypeCabinetSection: "cabinet_sections",
	entity.EntityTypeDoor:           "doors",
	entity.EntityTypeDrawer:         "drawers",
	entity.EntityTypeShelf:          "shelves",
	entity.EntityTypePullout:        "pullouts",
	entity.EntityTypeBomLine:        "bom_lines",
}

// mutableEntityFields 各实体类型允许通过通用写入口修改的字段白名单
var mutableEntityFields = map[string]map[string]bool{
	entity.EntityTypeCabinet: {
		"cabinet_type": true, "full_code": true,
		"width_inches": true, "height_inches": true, "depth_inches": true,
		"box_material": true, "finish_type": true, "edge_banding": true, "hardware_spec": true,
		"qc_status": true, "qc_notes": true, "shop_notes": true, "sort_order": true,
	},
	entity.EntityTypeCabinetSection: {
		"section_type": true, "width_inches": true, "height_inches": true, "qc_notes": true,
	},
	entity.EntityTypeDoor: {
		"door_style": true, "width_inches": true, "height_inches": true,
		"hinge_side": true, "qc_notes": true,
	},
	entity.EntityTypeDrawer: {
		"slide_type": true, "width_inches": true, "height_inches": true,
		"depth_inches": true, "qc_notes": true,
	},
	entity.EntityTypeShelf: {
		"shelf_type": true, "width_inches": true, "depth_inches": true, "qc_notes": true,
	},
	entity.EntityTypePullout: {
		"pullout_type": true, "hardware_spec": true, "width_inches": true, "qc_notes": true,
	},
	entity.EntityTypeBomLine: {
		"component_name": true, "material_code": true, "quantity_required": true,
		"unit_of_measure": true, "unit_cost": true, "qc_notes": true, "sort_order": true,
	},
}

// IsFieldBlocked 判断字段在给定锁级别下是否被冻结
func IsFieldBlocked(entityType, field, level string) bool {
	if exemptFields[field] {
		return false
	}
	switch level {
	case entity.LockLevelFull:
		return true
	case entity.LockLevelDimensions:
		return dimensionFields[entityType][field]
	case entity.LockLevelMaterials:
		return materialFields[entityType][field]
	}
	return false
}

// LockViolationError 锁定冲突错误
// 携带冲突上下文，提示调用方通过变更单流程修改。
type LockViolationError struct {
	EntityType string
	EntityID   *string
	Fields     []string
	GateKey    string
	LockLevel  string
	LockedAt   time.Time
}

func (e *LockViolationError) Error() string {
	return fmt.Sprintf(
		"实体 %s 的字段 [%s] 已被门禁 %s 锁定（级别 %s，锁定于 %s），请通过变更单流程修改",
		e.EntityType, strings.Join(e.Fields, ", "),
		e.GateKey, e.LockLevel, e.LockedAt.Format("2006-01-02 15:04"))
}

// =============================================================================
// 锁定旁路 — 变更单实施路径通过上下文标记绕过锁检查
// =============================================================================

type lockBypassKey struct{}

// WithLockBypass 返回携带锁定旁路标记的上下文
// 仅限变更单实施等系统内部写路径使用。
func WithLockBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, lockBypassKey{}, true)
}

// lockBypassed 判断上下文是否携带旁路标记
func lockBypassed(ctx context.Context) bool {
	v, ok := ctx.Value(lockBypassKey{}).(bool)
	return ok && v
}
