package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"gorm.io/gorm"
)

// TaskRepository 任务仓储
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓储
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID 根据ID查找任务
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*entity.Task, error) {
	var task entity.Task
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// ListByProject 获取项目任务列表
func (r *TaskRepository) ListByProject(ctx context.Context, projectID string) ([]entity.Task, error) {
	var tasks []entity.Task
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListBlockable 获取可被停工的任务（未完成、未取消、未被其他变更单阻塞）
func (r *TaskRepository) ListBlockable(ctx context.Context, projectID string) ([]entity.Task, error) {
	var tasks []entity.Task
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status IN ? AND blocked_by_change_order_id IS NULL",
			projectID,
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress, entity.TaskStatusApproved}).
		Find(&tasks).Error
	return tasks, err
}

// Block 将任务标记为阻塞，记录原状态
func (r *TaskRepository) Block(ctx context.Context, taskID, changeOrderID, previousStatus string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Where("id = ? AND blocked_by_change_order_id IS NULL", taskID).
		Updates(map[string]interface{}{
			"blocked_by_change_order_id": changeOrderID,
			"status_before_block":        previousStatus,
			"status":                     entity.TaskStatusBlocked,
			"updated_at":                 time.Now(),
		}).Error
}

// Unblock 解除阻塞并恢复原状态
func (r *TaskRepository) Unblock(ctx context.Context, taskID, restoreStatus string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"blocked_by_change_order_id": nil,
			"status_before_block":        nil,
			"status":                     restoreStatus,
			"updated_at":                 time.Now(),
		}).Error
}

// CountByStatus 按状态统计项目任务数
func (r *TaskRepository) CountByStatus(ctx context.Context, projectID, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Where("project_id = ? AND status = ?", projectID, status).
		Count(&count).Error
	return count, err
}

// CountIncomplete 统计未完成任务数（completed/cancelled 之外）
func (r *TaskRepository) CountIncomplete(ctx context.Context, projectID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Where("project_id = ? AND status NOT IN ?",
			projectID,
			[]string{entity.TaskStatusCompleted, entity.TaskStatusCancelled}).
		Count(&count).Error
	return count, err
}
