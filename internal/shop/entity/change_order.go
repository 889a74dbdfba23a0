package entity

import (
	"time"
)

// ChangeOrder 变更单
type ChangeOrder struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	Number      string `json:"number" gorm:"size:64;not null;uniqueIndex"`
	ProjectID   string `json:"project_id" gorm:"size:32;not null;index"`
	Title       string `json:"title" gorm:"size:256;not null"`
	Description string `json:"description" gorm:"type:text"`
	Reason      string `json:"reason" gorm:"size:32;not null;default:client_request"`
	Status      string `json:"status" gorm:"size:16;not null;default:draft"`

	// 该变更单临时释放哪个门禁的锁（创建时必填）
	UnlocksGate string `json:"unlocks_gate" gorm:"size:64;not null"`

	PriceDelta float64 `json:"price_delta" gorm:"type:decimal(15,2);default:0"`
	BOMDelta   JSONB   `json:"bom_delta" gorm:"column:bom_delta_json;type:jsonb"`

	RequestedBy   string     `json:"requested_by" gorm:"size:32;not null"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	ApprovedBy    *string    `json:"approved_by" gorm:"size:32"`
	ApprovedAt    *time.Time `json:"approved_at"`
	ApprovalNotes string     `json:"approval_notes" gorm:"type:text"`
	AppliedBy     *string    `json:"applied_by" gorm:"size:32"`
	AppliedAt     *time.Time `json:"applied_at"`
	CancelledBy   *string    `json:"cancelled_by" gorm:"size:32"`
	CancelledAt   *time.Time `json:"cancelled_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Lines       []ChangeOrderLine       `json:"lines,omitempty" gorm:"foreignKey:ChangeOrderID"`
	StopActions []ChangeOrderStopAction `json:"stop_actions,omitempty" gorm:"foreignKey:ChangeOrderID"`
}

func (ChangeOrder) TableName() string {
	return "change_orders"
}

// CanBeApproved 是否可审批
func (co *ChangeOrder) CanBeApproved() bool {
	return co.Status == ChangeOrderStatusSubmitted
}

// CanBeApplied 是否可实施
func (co *ChangeOrder) CanBeApplied() bool {
	return co.Status == ChangeOrderStatusApproved
}

// IsTerminal 是否处于终态
func (co *ChangeOrder) IsTerminal() bool {
	return co.Status == ChangeOrderStatusApplied || co.Status == ChangeOrderStatusCancelled
}

// ChangeOrderLine 变更单行（记录单字段变更，归属不可转移）
type ChangeOrderLine struct {
	ID            string  `json:"id" gorm:"primaryKey;size:32"`
	ChangeOrderID string  `json:"change_order_id" gorm:"size:32;not null;index"`
	EntityType    string  `json:"entity_type" gorm:"size:32;not null"`
	EntityID      string  `json:"entity_id" gorm:"size:32;not null"`
	FieldName     string  `json:"field_name" gorm:"size:64;not null"`
	OldValue      *string `json:"old_value" gorm:"size:500"`
	NewValue      string  `json:"new_value" gorm:"size:500;not null"`
	PriceImpact   float64 `json:"price_impact" gorm:"type:decimal(15,2);default:0"`
	BOMImpact     JSONB   `json:"bom_impact" gorm:"column:bom_impact_json;type:jsonb"`

	IsApplied bool       `json:"is_applied" gorm:"default:false"`
	AppliedAt *time.Time `json:"applied_at"`

	SortOrder int       `json:"sort_order" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChangeOrderLine) TableName() string {
	return "change_order_lines"
}

// ChangeOrderStopAction 停工动作审计记录
// 记录执行前状态，保证恢复是执行的精确逆操作。
type ChangeOrderStopAction struct {
	ID            string `json:"id" gorm:"primaryKey;size:32"`
	ChangeOrderID string `json:"change_order_id" gorm:"size:32;not null;index"`
	ActionType    string `json:"action_type" gorm:"size:32;not null"`
	EntityType    string `json:"entity_type" gorm:"size:32;not null"`
	EntityID      string `json:"entity_id" gorm:"size:32;not null"`
	PreviousState string `json:"previous_state" gorm:"size:32"`
	NewState      string `json:"new_state" gorm:"size:32"`

	PerformedBy string    `json:"performed_by" gorm:"size:32"`
	PerformedAt time.Time `json:"performed_at"`

	RevertedAt *time.Time `json:"reverted_at"`
	RevertedBy *string    `json:"reverted_by" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
}

func (ChangeOrderStopAction) TableName() string {
	return "change_order_stop_actions"
}

// IsActive 是否尚未恢复
func (a *ChangeOrderStopAction) IsActive() bool {
	return a.RevertedAt == nil
}

// 变更单状态
const (
	ChangeOrderStatusDraft     = "draft"
	ChangeOrderStatusSubmitted = "submitted"
	ChangeOrderStatusApproved  = "approved"
	ChangeOrderStatusApplied   = "applied"
	ChangeOrderStatusCancelled = "cancelled"
)

// 变更原因
const (
	ChangeOrderReasonClientRequest = "client_request"
	ChangeOrderReasonSiteCondition = "site_condition"
	ChangeOrderReasonEngineering   = "engineering"
	ChangeOrderReasonMaterial      = "material"
)

// 停工动作类型
const (
	StopActionTypeTaskBlocked     = "task_blocked"
	StopActionTypePOHeld          = "po_held"
	StopActionTypeDeliveryBlocked = "delivery_blocked"
)
