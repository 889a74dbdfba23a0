package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
)

// GateHandler 门禁接口
type GateHandler struct {
	svc *service.GateService
}

// NewGateHandler 创建门禁接口
func NewGateHandler(svc *service.GateService) *GateHandler {
	return &GateHandler{svc: svc}
}

// ListByStage 获取阶段门禁列表
// GET /api/v1/gates?stage=design
func (h *GateHandler) ListByStage(c *gin.Context) {
	stage := c.Query("stage")
	if stage == "" {
		BadRequest(c, "缺少stage参数")
		return
	}
	gates, err := h.svc.ListByStage(c.Request.Context(), stage)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": gates})
}

// Evaluate 评估门禁（无副作用）
// POST /api/v1/projects/:id/gates/:gate_key/evaluate
func (h *GateHandler) Evaluate(c *gin.Context) {
	projectID := c.Param("id")
	gateKey := c.Param("gate_key")

	result, err := h.svc.Evaluate(c.Request.Context(), projectID, gateKey, GetUserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// Pass 通过门禁（评估通过后施加锁定并生成任务）
// POST /api/v1/projects/:id/gates/:gate_key/pass
func (h *GateHandler) Pass(c *gin.Context) {
	projectID := c.Param("id")
	gateKey := c.Param("gate_key")

	result, err := h.svc.Pass(c.Request.Context(), projectID, gateKey, GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrGateNotPassed) {
			// 评估失败不是服务错误，返回失败原因
			c.JSON(422, Response{
				Code:    42200,
				Message: err.Error(),
				Data:    result,
			})
			return
		}
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// Status 读取门禁最近评估的缓存结果
// GET /api/v1/projects/:id/gates/:gate_key/status
func (h *GateHandler) Status(c *gin.Context) {
	projectID := c.Param("id")
	gateKey := c.Param("gate_key")

	result := h.svc.CachedResult(c.Request.Context(), projectID, gateKey)
	if result == nil {
		Success(c, gin.H{"cached": false})
		return
	}
	Success(c, gin.H{"cached": true, "result": result})
}

// History 获取项目评估历史
// GET /api/v1/projects/:id/gate-evaluations
func (h *GateHandler) History(c *gin.Context) {
	projectID := c.Param("id")

	evals, err := h.svc.EvaluationHistory(c.Request.Context(), projectID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"items": evals})
}
