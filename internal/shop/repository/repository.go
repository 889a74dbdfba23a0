package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Project       *ProjectRepository
	Gate          *GateRepository
	Lock          *LockRepository
	ChangeOrder   *ChangeOrderRepository
	Task          *TaskRepository
	PurchaseOrder *PurchaseOrderRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Project:       NewProjectRepository(db),
		Gate:          NewGateRepository(db),
		Lock:          NewLockRepository(db),
		ChangeOrder:   NewChangeOrderRepository(db),
		Task:          NewTaskRepository(db),
		PurchaseOrder: NewPurchaseOrderRepository(db),
	}
}
