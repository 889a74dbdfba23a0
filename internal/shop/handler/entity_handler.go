package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
)

// EntityHandler 可锁实体写接口
// 所有字段修改经过锁定守卫，命中锁时返回423与冲突详情。
type EntityHandler struct {
	guard *service.LockGuard
}

// NewEntityHandler 创建可锁实体写接口
func NewEntityHandler(guard *service.LockGuard) *EntityHandler {
	return &EntityHandler{guard: guard}
}

// Update 更新可锁实体字段
// PATCH /api/v1/entities/:entity_type/:entity_id
func (h *EntityHandler) Update(c *gin.Context) {
	entityType := c.Param("entity_type")
	entityID := c.Param("entity_id")

	var changes map[string]interface{}
	if err := c.ShouldBindJSON(&changes); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if len(changes) == 0 {
		BadRequest(c, "没有要修改的字段")
		return
	}

	if err := h.guard.GuardedUpdate(c.Request.Context(), entityType, entityID, changes); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{
		"entity_type": entityType,
		"entity_id":   entityID,
		"updated":     len(changes),
	})
}
