package entity

import (
	"time"
)

// Project 定制橱柜项目
type Project struct {
	ID            string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectNumber string  `json:"project_number" gorm:"size:64;not null;uniqueIndex"`
	Name          string  `json:"name" gorm:"size:128;not null"`
	ClientName    string  `json:"client_name" gorm:"size:128"`
	Stage         string  `json:"stage" gorm:"size:32;not null;default:discovery"`
	Description   string  `json:"description" gorm:"type:text"`
	QuotedPrice   float64 `json:"quoted_price" gorm:"type:decimal(15,2);default:0"`

	// 各类锁定时间戳（门禁通过时写入）
	DesignLockedAt      *time.Time `json:"design_locked_at"`
	DesignLockedBy      *string    `json:"design_locked_by" gorm:"size:32"`
	ProcurementLockedAt *time.Time `json:"procurement_locked_at"`
	ProcurementLockedBy *string    `json:"procurement_locked_by" gorm:"size:32"`
	ProductionLockedAt  *time.Time `json:"production_locked_at"`
	ProductionLockedBy  *string    `json:"production_locked_by" gorm:"size:32"`

	// 锁定时的快照（只追加，锁定后不再重算）
	BOMSnapshot     JSONB `json:"bom_snapshot" gorm:"column:bom_snapshot_json;type:jsonb"`
	PricingSnapshot JSONB `json:"pricing_snapshot" gorm:"column:pricing_snapshot_json;type:jsonb"`

	// 变更单冗余标记（快速检查用）
	HasPendingChangeOrder bool    `json:"has_pending_change_order" gorm:"default:false"`
	ActiveChangeOrderID   *string `json:"active_change_order_id" gorm:"size:32"`
	DeliveryBlocked       bool    `json:"delivery_blocked" gorm:"default:false"`

	CreatedBy string     `json:"created_by" gorm:"size:32;not null"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`

	// 关联
	Rooms    []Room    `json:"rooms,omitempty" gorm:"foreignKey:ProjectID"`
	Cabinets []Cabinet `json:"cabinets,omitempty" gorm:"foreignKey:ProjectID"`
	Tasks    []Task    `json:"tasks,omitempty" gorm:"foreignKey:ProjectID"`
	BomLines []BomLine `json:"bom_lines,omitempty" gorm:"foreignKey:ProjectID"`
}

func (Project) TableName() string {
	return "projects"
}

// Room 房间（报价单元）
type Room struct {
	ID              string    `json:"id" gorm:"primaryKey;size:32"`
	ProjectID       string    `json:"project_id" gorm:"size:32;not null;index"`
	Name            string    `json:"name" gorm:"size:128;not null"`
	RoomType        string    `json:"room_type" gorm:"size:32"`
	EstimatedValue  float64   `json:"estimated_value" gorm:"type:decimal(15,2);default:0"`
	QuotedPrice     float64   `json:"quoted_price" gorm:"type:decimal(15,2);default:0"`
	TotalLinearFeet float64   `json:"total_linear_feet" gorm:"type:decimal(10,2);default:0"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Room) TableName() string {
	return "project_rooms"
}

// 项目阶段
const (
	ProjectStageDiscovery  = "discovery"
	ProjectStageDesign     = "design"
	ProjectStageSourcing   = "sourcing"
	ProjectStageProduction = "production"
	ProjectStageDelivery   = "delivery"
	ProjectStageCompleted  = "completed"
)
