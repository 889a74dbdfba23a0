package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
)

// ChangeOrderHandler 变更单接口
type ChangeOrderHandler struct {
	svc *service.ChangeOrderService
}

// NewChangeOrderHandler 创建变更单接口
func NewChangeOrderHandler(svc *service.ChangeOrderService) *ChangeOrderHandler {
	return &ChangeOrderHandler{svc: svc}
}

// Create 创建变更单
// POST /api/v1/projects/:id/change-orders
func (h *ChangeOrderHandler) Create(c *gin.Context) {
	projectID := c.Param("id")

	var req service.CreateChangeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	co, err := h.svc.Create(c.Request.Context(), projectID, GetUserID(c), &req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, co)
}

// List 获取项目变更单列表
// GET /api/v1/projects/:id/change-orders?status=submitted
func (h *ChangeOrderHandler) List(c *gin.Context) {
	projectID := c.Param("id")

	cos, err := h.svc.List(c.Request.Context(), projectID, c.Query("status"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": cos})
}

// Get 获取变更单详情（含行项与停工记录）
// GET /api/v1/change-orders/:co_id
func (h *ChangeOrderHandler) Get(c *gin.Context) {
	co, err := h.svc.Get(c.Request.Context(), c.Param("co_id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, co)
}

// AddLine 向草稿变更单添加行项
// POST /api/v1/change-orders/:co_id/lines
func (h *ChangeOrderHandler) AddLine(c *gin.Context) {
	var req service.AddLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	line, err := h.svc.AddLine(c.Request.Context(), c.Param("co_id"), GetUserID(c), &req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, line)
}

// Submit 提交变更单
// POST /api/v1/change-orders/:co_id/submit
func (h *ChangeOrderHandler) Submit(c *gin.Context) {
	co, err := h.svc.Submit(c.Request.Context(), c.Param("co_id"), GetUserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, co)
}

// Approve 审批变更单
// POST /api/v1/change-orders/:co_id/approve
func (h *ChangeOrderHandler) Approve(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	// 审批备注可选
	_ = c.ShouldBindJSON(&req)

	co, err := h.svc.Approve(c.Request.Context(), c.Param("co_id"), GetUserID(c), req.Notes)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, co)
}

// Apply 实施变更单
// POST /api/v1/change-orders/:co_id/apply
func (h *ChangeOrderHandler) Apply(c *gin.Context) {
	co, err := h.svc.Apply(c.Request.Context(), c.Param("co_id"), GetUserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, co)
}

// Cancel 撤销变更单
// POST /api/v1/change-orders/:co_id/cancel
func (h *ChangeOrderHandler) Cancel(c *gin.Context) {
	co, err := h.svc.Cancel(c.Request.Context(), c.Param("co_id"), GetUserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, co)
}

// PreviewImpact 预览变更影响
// GET /api/v1/change-orders/:co_id/impact
func (h *ChangeOrderHandler) PreviewImpact(c *gin.Context) {
	preview, err := h.svc.PreviewImpact(c.Request.Context(), c.Param("co_id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, preview)
}
