package entity

import (
	"time"
)

// Task 生产任务
type Task struct {
	ID          string     `json:"id" gorm:"primaryKey;size:32"`
	ProjectID   string     `json:"project_id" gorm:"size:32;not null;index"`
	Title       string     `json:"title" gorm:"size:256;not null"`
	Description string     `json:"description" gorm:"type:text"`
	Status      string     `json:"status" gorm:"size:16;not null;default:pending"`
	Priority    string     `json:"priority" gorm:"size:16;not null;default:medium"`
	AssigneeID  *string    `json:"assignee_id" gorm:"size:32"`
	DueDate     *time.Time `json:"due_date" gorm:"type:date"`
	CompletedAt *time.Time `json:"completed_at"`

	// 变更单停工标记（恢复时回到 StatusBeforeBlock）
	BlockedByChangeOrderID *string `json:"blocked_by_change_order_id" gorm:"size:32;index"`
	StatusBeforeBlock      *string `json:"status_before_block" gorm:"size:16"`

	// 门禁任务模板生成标记
	CreatedByGate string `json:"created_by_gate" gorm:"size:64"`

	CreatedBy string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// 任务状态
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusApproved   = "approved"
	TaskStatusBlocked    = "blocked"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// 任务优先级
const (
	TaskPriorityLow      = "low"
	TaskPriorityMedium   = "medium"
	TaskPriorityHigh     = "high"
	TaskPriorityCritical = "critical"
)
