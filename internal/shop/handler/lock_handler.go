package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
)

// LockHandler 实体锁接口
type LockHandler struct {
	svc *service.EntityLockService
}

// NewLockHandler 创建实体锁接口
func NewLockHandler(svc *service.EntityLockService) *LockHandler {
	return &LockHandler{svc: svc}
}

// Info 获取项目锁定状态汇总
// GET /api/v1/projects/:id/locks
func (h *LockHandler) Info(c *gin.Context) {
	projectID := c.Param("id")

	info, err := h.svc.GetLockInfo(c.Request.Context(), projectID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, info)
}

// CheckField 查询实体字段是否被锁定
// GET /api/v1/projects/:id/locks/check?entity_type=Cabinet&entity_id=xxx&field=width_inches
func (h *LockHandler) CheckField(c *gin.Context) {
	projectID := c.Param("id")
	entityType := c.Query("entity_type")
	field := c.Query("field")
	if entityType == "" || field == "" {
		BadRequest(c, "缺少entity_type或field参数")
		return
	}

	var entityID *string
	if v := c.Query("entity_id"); v != "" {
		entityID = &v
	}

	locked, err := h.svc.IsFieldLocked(c.Request.Context(), projectID, entityType, entityID, field)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{
		"entity_type": entityType,
		"field":       field,
		"locked":      locked,
	})
}
