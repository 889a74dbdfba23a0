package entity

import (
	"time"
)

// 可锁定实体类型
const (
	EntityTypeCabinet        = "Cabinet"
	EntityTypeCabinetSection = "CabinetSection"
	EntityTypeDoor           = "Door"
	EntityTypeDrawer         = "Drawer"
	EntityTypeShelf          = "Shelf"
	EntityTypePullout        = "Pullout"
	EntityTypeBomLine        = "BomLine"
)

// Cabinet 柜体
// 层级：Project -> Room -> Cabinet -> Section -> Door/Drawer/Shelf/Pullout
type Cabinet struct {
	ID            string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID     string  `json:"project_id" gorm:"size:32;not null;index"`
	RoomID        *string `json:"room_id" gorm:"size:32;index"`
	CabinetNumber int     `json:"cabinet_number" gorm:"not null;default:1"`
	FullCode      string  `json:"full_code" gorm:"size:64"`
	CabinetType   string  `json:"cabinet_type" gorm:"size:32;default:base"`

	// 尺寸（英寸）
	WidthInches  float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	HeightInches float64 `json:"height_inches" gorm:"type:decimal(8,3)"`
	DepthInches  float64 `json:"depth_inches" gorm:"type:decimal(8,3)"`

	// 材质与构造
	BoxMaterial  string `json:"box_material" gorm:"size:64"`
	FinishType   string `json:"finish_type" gorm:"size:64"`
	EdgeBanding  string `json:"edge_banding" gorm:"size:64"`
	HardwareSpec string `json:"hardware_spec" gorm:"size:128"`

	// 质检与备注（锁定豁免字段）
	QCStatus  string `json:"qc_status" gorm:"size:16;default:pending"`
	QCNotes   string `json:"qc_notes" gorm:"type:text"`
	ShopNotes string `json:"shop_notes" gorm:"type:text"`

	SortOrder int       `json:"sort_order" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Sections []CabinetSection `json:"sections,omitempty" gorm:"foreignKey:CabinetID"`
}

func (Cabinet) TableName() string {
	return "cabinets"
}

// CabinetSection 柜体分区
type CabinetSection struct {
	ID            string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID     string  `json:"project_id" gorm:"size:32;not null;index"`
	CabinetID     string  `json:"cabinet_id" gorm:"size:32;not null;index"`
	SectionNumber int     `json:"section_number" gorm:"not null;default:1"`
	SectionType   string  `json:"section_type" gorm:"size:32;default:open"`
	WidthInches   float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	HeightInches  float64 `json:"height_inches" gorm:"type:decimal(8,3)"`
	QCNotes       string  `json:"qc_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Doors   []Door   `json:"doors,omitempty" gorm:"foreignKey:SectionID"`
	Drawers []Drawer `json:"drawers,omitempty" gorm:"foreignKey:SectionID"`
}

func (CabinetSection) TableName() string {
	return "cabinet_sections"
}

// Door 柜门
type Door struct {
	ID           string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID    string  `json:"project_id" gorm:"size:32;not null;index"`
	SectionID    string  `json:"section_id" gorm:"size:32;not null;index"`
	DoorStyle    string  `json:"door_style" gorm:"size:64"`
	WidthInches  float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	HeightInches float64 `json:"height_inches" gorm:"type:decimal(8,3)"`
	HingeSide    string  `json:"hinge_side" gorm:"size:16;default:left"`
	QCNotes      string  `json:"qc_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Door) TableName() string {
	return "doors"
}

// Drawer 抽屉
type Drawer struct {
	ID           string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID    string  `json:"project_id" gorm:"size:32;not null;index"`
	SectionID    string  `json:"section_id" gorm:"size:32;not null;index"`
	DrawerNumber int     `json:"drawer_number" gorm:"not null;default:1"`
	SlideType    string  `json:"slide_type" gorm:"size:64"`
	WidthInches  float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	HeightInches float64 `json:"height_inches" gorm:"type:decimal(8,3)"`
	DepthInches  float64 `json:"depth_inches" gorm:"type:decimal(8,3)"`
	QCNotes      string  `json:"qc_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Drawer) TableName() string {
	return "drawers"
}

// Shelf 层板
type Shelf struct {
	ID          string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID   string  `json:"project_id" gorm:"size:32;not null;index"`
	SectionID   string  `json:"section_id" gorm:"size:32;not null;index"`
	ShelfType   string  `json:"shelf_type" gorm:"size:32;default:adjustable"`
	WidthInches float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	DepthInches float64 `json:"depth_inches" gorm:"type:decimal(8,3)"`
	QCNotes     string  `json:"qc_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Shelf) TableName() string {
	return "shelves"
}

// Pullout 拉篮
type Pullout struct {
	ID           string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID    string  `json:"project_id" gorm:"size:32;not null;index"`
	SectionID    string  `json:"section_id" gorm:"size:32;not null;index"`
	PulloutType  string  `json:"pullout_type" gorm:"size:64"`
	HardwareSpec string  `json:"hardware_spec" gorm:"size:128"`
	WidthInches  float64 `json:"width_inches" gorm:"type:decimal(8,3)"`
	QCNotes      string  `json:"qc_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Pullout) TableName() string {
	return "pullouts"
}
