package entity

import (
	"time"
)

// Gate 阶段门禁（配置数据，被锁或变更单引用后不可变）
type Gate struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	GateKey     string `json:"gate_key" gorm:"size:64;not null;uniqueIndex"`
	Stage       string `json:"stage" gorm:"size:32;not null;index"`
	Name        string `json:"name" gorm:"size:128;not null"`
	Description string `json:"description" gorm:"type:text"`
	Sequence    int    `json:"sequence" gorm:"not null;default:0"`
	IsBlocking  bool   `json:"is_blocking" gorm:"default:true"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`

	// 通过后激活的锁定类别
	AppliesDesignLock      bool `json:"applies_design_lock" gorm:"default:false"`
	AppliesProcurementLock bool `json:"applies_procurement_lock" gorm:"default:false"`
	AppliesProductionLock  bool `json:"applies_production_lock" gorm:"default:false"`

	// 通过后生成的跟进任务
	CreatesTasksOnPass bool       `json:"creates_tasks_on_pass" gorm:"default:false"`
	TaskTemplates      JSONBArray `json:"task_templates" gorm:"column:task_templates_json;type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Requirements []GateRequirement `json:"requirements,omitempty" gorm:"foreignKey:GateID"`
}

func (Gate) TableName() string {
	return "gates"
}

// GateRequirement 门禁检查项
type GateRequirement struct {
	ID              string `json:"id" gorm:"primaryKey;size:32"`
	GateID          string `json:"gate_id" gorm:"size:32;not null;index"`
	RequirementType string `json:"requirement_type" gorm:"size:32;not null"`
	TargetField     string `json:"target_field" gorm:"size:64"`
	TargetValue     string `json:"target_value" gorm:"size:256"`
	MinCount        int    `json:"min_count" gorm:"default:0"`

	// 失败时的提示信息
	ErrorMessage string `json:"error_message" gorm:"size:256;not null"`
	HelpText     string `json:"help_text" gorm:"size:500"`
	ActionLabel  string `json:"action_label" gorm:"size:64"`

	Sequence  int       `json:"sequence" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
}

func (GateRequirement) TableName() string {
	return "gate_requirements"
}

// GateEvaluation 门禁评估记录（只追加审计记录，从不修改）
type GateEvaluation struct {
	ID             string     `json:"id" gorm:"primaryKey;size:32"`
	ProjectID      string     `json:"project_id" gorm:"size:32;not null;index"`
	GateID         string     `json:"gate_id" gorm:"size:32;not null;index"`
	GateKey        string     `json:"gate_key" gorm:"size:64;not null"`
	Passed         bool       `json:"passed" gorm:"not null"`
	FailureReasons JSONBArray `json:"failure_reasons" gorm:"column:failure_reasons_json;type:jsonb"`
	EvaluatedBy    string     `json:"evaluated_by" gorm:"size:32"`
	EvaluatedAt    time.Time  `json:"evaluated_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (GateEvaluation) TableName() string {
	return "gate_evaluations"
}

// 检查项类型
const (
	RequirementTypeFieldNotNull   = "field_not_null"
	RequirementTypeFieldEquals    = "field_equals"
	RequirementTypeMinRooms       = "min_rooms"
	RequirementTypeMinCabinets    = "min_cabinets"
	RequirementTypeMinBomLines    = "min_bom_lines"
	RequirementTypeTasksCompleted = "tasks_completed"
)
