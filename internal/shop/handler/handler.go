package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
)

// Handlers 处理器集合
type Handlers struct {
	Gate        *GateHandler
	Lock        *LockHandler
	ChangeOrder *ChangeOrderHandler
	Entity      *EntityHandler
	SSE         *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Gate:        NewGateHandler(svc.Gate),
		Lock:        NewLockHandler(svc.Lock),
		ChangeOrder: NewChangeOrderHandler(svc.ChangeOrder),
		Entity:      NewEntityHandler(svc.Guard),
		SSE:         NewSSEHandler(),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 状态冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// LockViolation 锁定冲突响应（附冲突详情）
func LockViolation(c *gin.Context, violation *service.LockViolationError) {
	c.JSON(423, Response{
		Code:    42300,
		Message: violation.Error(),
		Data: gin.H{
			"entity_type": violation.EntityType,
			"entity_id":   violation.EntityID,
			"fields":      violation.Fields,
			"gate_key":    violation.GateKey,
			"lock_level":  violation.LockLevel,
			"locked_at":   violation.LockedAt,
		},
	})
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// HandleServiceError 按错误类别映射响应
func HandleServiceError(c *gin.Context, err error) {
	var violation *service.LockViolationError
	switch {
	case errors.As(err, &violation):
		LockViolation(c, violation)
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, "资源不存在")
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPendingExists),
		errors.Is(err, service.ErrLinesOnlyInDraft):
		Conflict(c, err.Error())
	case errors.Is(err, service.ErrUnlocksGateRequired),
		errors.Is(err, service.ErrGateInactive):
		BadRequest(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
