package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
)

// ProjectRepository 项目仓储
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建项目仓储
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// DB 返回底层连接（事务封装用）
func (r *ProjectRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 根据ID查找项目
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*entity.Project, error) {
	var project entity.Project
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

// FindByIDWithRooms 查找项目并加载房间
func (r *ProjectRepository) FindByIDWithRooms(ctx context.Context, id string) (*entity.Project, error) {
	var project entity.Project
	err := r.db.WithContext(ctx).
		Preload("Rooms").
		Where("id = ?", id).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

// Create 创建项目
func (r *ProjectRepository) Create(ctx context.Context, project *entity.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

// Update 更新项目
func (r *ProjectRepository) Update(ctx context.Context, project *entity.Project) error {
	return r.db.WithContext(ctx).Save(project).Error
}

// UpdateFields 更新指定字段
func (r *ProjectRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&entity.Project{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// SetPendingChangeOrder 设置待处理变更单标记
func (r *ProjectRepository) SetPendingChangeOrder(ctx context.Context, projectID string, changeOrderID *string) error {
	return r.UpdateFields(ctx, projectID, map[string]interface{}{
		"has_pending_change_order": changeOrderID != nil,
		"active_change_order_id":   changeOrderID,
	})
}

// SetDeliveryBlocked 设置交付阻塞标记
func (r *ProjectRepository) SetDeliveryBlocked(ctx context.Context, projectID string, blocked bool) error {
	return r.UpdateFields(ctx, projectID, map[string]interface{}{
		"delivery_blocked": blocked,
	})
}

// CountRooms 统计项目房间数
func (r *ProjectRepository) CountRooms(ctx context.Context, projectID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Room{}).
		Where("project_id = ?", projectID).
		Count(&count).Error
	return count, err
}

// CountCabinets 统计项目柜体数
func (r *ProjectRepository) CountCabinets(ctx context.Context, projectID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Cabinet{}).
		Where("project_id = ?", projectID).
		Count(&count).Error
	return count, err
}

// ListRooms 获取项目房间列表
func (r *ProjectRepository) ListRooms(ctx context.Context, projectID string) ([]entity.Room, error) {
	var rooms []entity.Room
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&rooms).Error
	return rooms, err
}

// ListBomLines 获取项目BOM行
func (r *ProjectRepository) ListBomLines(ctx context.Context, projectID string) ([]entity.BomLine, error) {
	var lines []entity.BomLine
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("sort_order ASC, created_at ASC").
		Find(&lines).Error
	return lines, err
}
