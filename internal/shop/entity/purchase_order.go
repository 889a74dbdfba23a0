package entity

import (
	"time"
)

// PurchaseOrder 采购订单
type PurchaseOrder struct {
	ID         string  `json:"id" gorm:"primaryKey;size:32"`
	POCode     string  `json:"po_code" gorm:"size:32;uniqueIndex;not null"`
	ProjectID  string  `json:"project_id" gorm:"size:32;not null;index"`
	SupplierID *string `json:"supplier_id" gorm:"size:32"`
	Status     string  `json:"status" gorm:"size:20;not null;default:draft"`

	TotalAmount float64 `json:"total_amount" gorm:"type:decimal(15,2);default:0"`
	Currency    string  `json:"currency" gorm:"size:10;default:USD"`

	ExpectedDate *time.Time `json:"expected_date"`

	// 变更单挂起标记（释放时回到 StatusBeforeHold）
	HeldByChangeOrderID *string    `json:"held_by_change_order_id" gorm:"size:32;index"`
	HeldAt              *time.Time `json:"held_at"`
	HeldBy              *string    `json:"held_by" gorm:"size:32"`
	StatusBeforeHold    *string    `json:"status_before_hold" gorm:"size:20"`

	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Notes     string    `json:"notes" gorm:"type:text"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}

// PO状态
const (
	POStatusDraft     = "draft"
	POStatusSent      = "sent"
	POStatusConfirmed = "confirmed"
	POStatusOnHold    = "on_hold"
	POStatusReceived  = "received"
	POStatusCancelled = "cancelled"
)
