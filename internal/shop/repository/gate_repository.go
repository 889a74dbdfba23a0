package repository

import (
	"context"
	"errors"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
)

// GateRepository 门禁仓储
type GateRepository struct {
	db *gorm.DB
}

// NewGateRepository 创建门禁仓储
func NewGateRepository(db *gorm.DB) *GateRepository {
	return &GateRepository{db: db}
}

// FindByKey 根据 gate_key 查找门禁（含检查项）
func (r *GateRepository) FindByKey(ctx context.Context, gateKey string) (*entity.Gate, error) {
	var gate entity.Gate
	err := r.db.WithContext(ctx).
		Preload("Requirements", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("gate_key = ?", gateKey).
		First(&gate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &gate, nil
}

// ListByStage 获取某阶段的门禁列表
func (r *GateRepository) ListByStage(ctx context.Context, stage string) ([]entity.Gate, error) {
	var gates []entity.Gate
	err := r.db.WithContext(ctx).
		Preload("Requirements", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("stage = ? AND is_active = ?", stage, true).
		Order("sequence ASC").
		Find(&gates).Error
	return gates, err
}

// Create 创建门禁
func (r *GateRepository) Create(ctx context.Context, gate *entity.Gate) error {
	return r.db.WithContext(ctx).Create(gate).Error
}

// AddRequirement 添加检查项
func (r *GateRepository) AddRequirement(ctx context.Context, req *entity.GateRequirement) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// CreateEvaluation 写入评估记录（只追加）
func (r *GateRepository) CreateEvaluation(ctx context.Context, eval *entity.GateEvaluation) error {
	return r.db.WithContext(ctx).Create(eval).Error
}

// ListEvaluations 获取项目的评估历史
func (r *GateRepository) ListEvaluations(ctx context.Context, projectID string) ([]entity.GateEvaluation, error) {
	var evals []entity.GateEvaluation
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("evaluated_at DESC").
		Find(&evals).Error
	return evals, err
}
