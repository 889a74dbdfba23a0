package entity

import (
	"time"
)

// BomLine 物料清单行（采购锁定对象）
type BomLine struct {
	ID            string  `json:"id" gorm:"primaryKey;size:32"`
	ProjectID     string  `json:"project_id" gorm:"size:32;not null;index"`
	CabinetID     *string `json:"cabinet_id" gorm:"size:32;index"`
	ComponentName string  `json:"component_name" gorm:"size:256;not null"`
	MaterialCode  string  `json:"material_code" gorm:"size:64"`
	Specification string  `json:"specification" gorm:"size:500"`

	QuantityRequired  float64 `json:"quantity_required" gorm:"type:decimal(10,2);not null;default:0"`
	UnitOfMeasure     string  `json:"unit_of_measure" gorm:"size:20;default:pcs"`
	UnitCost          float64 `json:"unit_cost" gorm:"type:decimal(12,4);default:0"`
	TotalMaterialCost float64 `json:"total_material_cost" gorm:"type:decimal(15,2);default:0"`

	SupplierID *string `json:"supplier_id" gorm:"size:32"`
	QCNotes    string  `json:"qc_notes" gorm:"type:text"`

	SortOrder int       `json:"sort_order" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BomLine) TableName() string {
	return "bom_lines"
}
