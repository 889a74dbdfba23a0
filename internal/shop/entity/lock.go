package entity

import (
	"time"
)

// EntityLock 实体锁记录
// 唯一性：同一 (project, entity_type, entity_id, lock_level) 最多一条活跃锁，
// 由 entity_locks 上的部分唯一索引保证（见迁移）。记录从不硬删除。
type EntityLock struct {
	ID         string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID  string  `json:"project_id" gorm:"size:32;not null;index"`
	EntityType string  `json:"entity_type" gorm:"size:32;not null"`
	EntityID   *string `json:"entity_id" gorm:"size:32"` // null 表示项目级锁
	LockLevel  string  `json:"lock_level" gorm:"size:16;not null"`

	LockedByGate string    `json:"locked_by_gate" gorm:"size:64;not null;index"`
	LockedAt     time.Time `json:"locked_at"`
	LockedBy     string    `json:"locked_by" gorm:"size:32"`

	// 释放信息（活跃锁为空）
	UnlockedAt          *time.Time `json:"unlocked_at"`
	UnlockedBy          *string    `json:"unlocked_by" gorm:"size:32"`
	UnlockChangeOrderID *string    `json:"unlock_change_order_id" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EntityLock) TableName() string {
	return "entity_locks"
}

// IsActive 是否为活跃锁
func (l *EntityLock) IsActive() bool {
	return l.UnlockedAt == nil
}

// 锁级别（FULL 覆盖所有更窄级别）
const (
	LockLevelFull       = "full"
	LockLevelDimensions = "dimensions"
	LockLevelMaterials  = "materials"
)

// lockLevelRank 级别排序，数值越小越严格
var lockLevelRank = map[string]int{
	LockLevelFull:       0,
	LockLevelDimensions: 1,
	LockLevelMaterials:  2,
}

// LockLevelRank 返回级别严格程度，未知级别排在最后
func LockLevelRank(level string) int {
	if r, ok := lockLevelRank[level]; ok {
		return r
	}
	return len(lockLevelRank)
}
