package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/repository"
	"go.uber.org/zap"
)

// =============================================================================
// 门禁服务 — 评估检查项、通过门禁并触发锁定与任务生成
// 评估记录只追加；评估本身无副作用，通过门禁才施加锁。
// =============================================================================

// 错误定义
var (
	ErrGateNotPassed = errors.New("门禁检查未通过")
	ErrGateInactive  = errors.New("门禁未启用")
)

// GateService 门禁服务
type GateService struct {
	gates    *repository.GateRepository
	projects *repository.ProjectRepository
	tasks    *repository.TaskRepository
	lockSvc  *EntityLockService
	bus      *EventBus
	rdb      *redis.Client
	logger   *zap.Logger
}

// NewGateService 创建门禁服务
func NewGateService(
	repos *repository.Repositories,
	lockSvc *EntityLockService,
	bus *EventBus,
	rdb *redis.Client,
	logger *zap.Logger,
) *GateService {
	return &GateService{
		gates:    repos.Gate,
		projects: repos.Project,
		tasks:    repos.Task,
		lockSvc:  lockSvc,
		bus:      bus,
		rdb:      rdb,
		logger:   logger,
	}
}

// FailureReason 检查项失败原因
type FailureReason struct {
	RequirementID string `json:"requirement_id"`
	Message       string `json:"message"`
	HelpText      string `json:"help_text,omitempty"`
	ActionLabel   string `json:"action_label,omitempty"`
}

// EvaluationResult 门禁评估结果
type EvaluationResult struct {
	GateKey        string          `json:"gate_key"`
	GateName       string          `json:"gate_name"`
	Passed         bool            `json:"passed"`
	FailureReasons []FailureReason `json:"failure_reasons"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
}

// PassGateResult 通过门禁的结果
type PassGateResult struct {
	Evaluation   *EvaluationResult   `json:"evaluation"`
	LocksCreated []entity.EntityLock `json:"locks_created"`
	TasksCreated []entity.Task       `json:"tasks_created"`
}

// Evaluate 评估门禁检查项
// 无副作用（不施加锁），但每次评估写入一条只追加的审计记录。
func (s *GateService) Evaluate(ctx context.Context, projectID, gateKey, userID string) (*EvaluationResult, error) {
	gate, err := s.gates.FindByKey(ctx, gateKey)
	if err != nil {
		return nil, err
	}
	if !gate.IsActive {
		return nil, ErrGateInactive
	}
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var failures []FailureReason
	for _, req := range gate.Requirements {
		ok, err := s.checkRequirement(ctx, project, &req)
		if err != nil {
			return nil, fmt.Errorf("执行检查项 %s 失败: %w", req.RequirementType, err)
		}
		if !ok {
			failures = append(failures, FailureReason{
				RequirementID: req.ID,
				Message:       req.ErrorMessage,
				HelpText:      req.HelpText,
				ActionLabel:   req.ActionLabel,
			})
		}
	}

	result := &EvaluationResult{
		GateKey:        gate.GateKey,
		GateName:       gate.Name,
		Passed:         len(failures) == 0,
		FailureReasons: failures,
		EvaluatedAt:    now,
	}

	if err := s.persistEvaluation(ctx, project.ID, gate, result, userID); err != nil {
		return nil, err
	}
	s.cacheResult(ctx, project.ID, result)

	evt := NewEvent(EventGateEvaluated, project.ID)
	evt.GateKey = gate.GateKey
	evt.Payload["passed"] = result.Passed
	evt.Payload["failure_count"] = len(failures)
	s.bus.Publish(ctx, evt)

	if !result.Passed {
		messages := make([]string, 0, len(failures))
		for _, f := range failures {
			messages = append(messages, f.Message)
		}
		failed := NewEvent(EventGateFailed, project.ID)
		failed.GateKey = gate.GateKey
		failed.Payload["failure_count"] = len(failures)
		failed.Payload["failure_reasons"] = messages
		s.bus.Publish(ctx, failed)
	}

	return result, nil
}

// Pass 通过门禁
// 评估通过后施加门禁配置的锁定类别，并生成跟进任务。
// 阻断型门禁评估失败时返回 ErrGateNotPassed，评估结果附在返回值中。
func (s *GateService) Pass(ctx context.Context, projectID, gateKey, userID string) (*PassGateResult, error) {
	result, err := s.Evaluate(ctx, projectID, gateKey, userID)
	if err != nil {
		return nil, err
	}
	out := &PassGateResult{Evaluation: result}
	if !result.Passed {
		gate, gerr := s.gates.FindByKey(ctx, gateKey)
		if gerr == nil && !gate.IsBlocking {
			// 非阻断门禁：记录失败但允许继续
			s.logger.Warn("非阻断门禁带失败项通过",
				zap.String("project_id", projectID),
				zap.String("gate", gateKey),
				zap.Int("failures", len(result.FailureReasons)))
		} else {
			return out, ErrGateNotPassed
		}
	}

	gate, err := s.gates.FindByKey(ctx, gateKey)
	if err != nil {
		return nil, err
	}

	locks, err := s.lockSvc.ApplyGateLocks(ctx, projectID, gate, userID)
	if err != nil {
		return nil, err
	}
	out.LocksCreated = locks

	tasksCreated, err := s.createGateTasks(ctx, projectID, gate, userID)
	if err != nil {
		return nil, err
	}
	out.TasksCreated = tasksCreated

	evt := NewEvent(EventGatePassed, projectID)
	evt.GateKey = gate.GateKey
	evt.Payload["locks_created"] = len(locks)
	evt.Payload["tasks_created"] = len(tasksCreated)
	s.bus.Publish(ctx, evt)

	return out, nil
}

// ListByStage 获取阶段门禁列表
func (s *GateService) ListByStage(ctx context.Context, stage string) ([]entity.Gate, error) {
	return s.gates.ListByStage(ctx, stage)
}

// EvaluationHistory 获取项目的评估历史
func (s *GateService) EvaluationHistory(ctx context.Context, projectID string) ([]entity.GateEvaluation, error) {
	return s.gates.ListEvaluations(ctx, projectID)
}

// CachedResult 读取最近一次评估的缓存结果（状态页快速展示用）
// 缓存未命中返回 nil，不回源。
func (s *GateService) CachedResult(ctx context.Context, projectID, gateKey string) *EvaluationResult {
	if s.rdb == nil {
		return nil
	}
	data, err := s.rdb.Get(ctx, gateResultKey(projectID, gateKey)).Bytes()
	if err != nil {
		return nil
	}
	var result EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}

// checkRequirement 执行单个检查项
func (s *GateService) checkRequirement(ctx context.Context, project *entity.Project, req *entity.GateRequirement) (bool, error) {
	switch req.RequirementType {
	case entity.RequirementTypeFieldNotNull:
		_, present := projectFieldValue(project, req.TargetField)
		return present, nil

	case entity.RequirementTypeFieldEquals:
		value, present := projectFieldValue(project, req.TargetField)
		return present && value == req.TargetValue, nil

	case entity.RequirementTypeMinRooms:
		count, err := s.projects.CountRooms(ctx, project.ID)
		return count >= int64(req.MinCount), err

	case entity.RequirementTypeMinCabinets:
		count, err := s.projects.CountCabinets(ctx, project.ID)
		return count >= int64(req.MinCount), err

	case entity.RequirementTypeMinBomLines:
		lines, err := s.projects.ListBomLines(ctx, project.ID)
		return len(lines) >= req.MinCount, err

	case entity.RequirementTypeTasksCompleted:
		count, err := s.tasks.CountIncomplete(ctx, project.ID)
		return count == 0, err
	}
	return false, fmt.Errorf("未知检查项类型: %s", req.RequirementType)
}

// projectFieldValue 读取项目字段值，第二个返回值表示字段非空
func projectFieldValue(p *entity.Project, field string) (string, bool) {
	switch field {
	case "name":
		return p.Name, p.Name != ""
	case "client_name":
		return p.ClientName, p.ClientName != ""
	case "project_number":
		return p.ProjectNumber, p.ProjectNumber != ""
	case "stage":
		return p.Stage, p.Stage != ""
	case "description":
		return p.Description, p.Description != ""
	case "quoted_price":
		return fmt.Sprintf("%.2f", p.QuotedPrice), p.QuotedPrice > 0
	case "pricing_snapshot":
		return "", p.PricingSnapshot != nil
	case "bom_snapshot":
		return "", p.BOMSnapshot != nil
	}
	return "", false
}

// persistEvaluation 写入评估审计记录
func (s *GateService) persistEvaluation(ctx context.Context, projectID string, gate *entity.Gate, result *EvaluationResult, userID string) error {
	reasons := make(entity.JSONBArray, 0, len(result.FailureReasons))
	for _, f := range result.FailureReasons {
		reasons = append(reasons, map[string]interface{}{
			"requirement_id": f.RequirementID,
			"message":        f.Message,
			"help_text":      f.HelpText,
			"action_label":   f.ActionLabel,
		})
	}
	eval := &entity.GateEvaluation{
		ID:             uuid.New().String()[:32],
		ProjectID:      projectID,
		GateID:         gate.ID,
		GateKey:        gate.GateKey,
		Passed:         result.Passed,
		FailureReasons: reasons,
		EvaluatedBy:    userID,
		EvaluatedAt:    result.EvaluatedAt,
	}
	return s.gates.CreateEvaluation(ctx, eval)
}

// cacheResult 缓存评估结果
func (s *GateService) cacheResult(ctx context.Context, projectID string, result *EvaluationResult) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, gateResultKey(projectID, result.GateKey), data, 5*time.Minute).Err(); err != nil {
		s.logger.Warn("缓存门禁评估结果失败", zap.Error(err))
	}
}

func gateResultKey(projectID, gateKey string) string {
	return fmt.Sprintf("shop:gate:result:%s:%s", projectID, gateKey)
}

// createGateTasks 按门禁模板生成跟进任务
// 同名且同门禁来源的任务已存在时跳过，保证重复通过幂等。
func (s *GateService) createGateTasks(ctx context.Context, projectID string, gate *entity.Gate, userID string) ([]entity.Task, error) {
	if !gate.CreatesTasksOnPass || len(gate.TaskTemplates) == 0 {
		return nil, nil
	}

	existing, err := s.tasks.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.CreatedByGate == gate.GateKey {
			seen[t.Title] = true
		}
	}

	var created []entity.Task
	now := time.Now()
	for _, raw := range gate.TaskTemplates {
		tpl, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		title, _ := tpl["title"].(string)
		if title == "" || seen[title] {
			continue
		}
		description, _ := tpl["description"].(string)
		priority, _ := tpl["priority"].(string)
		if priority == "" {
			priority = entity.TaskPriorityMedium
		}

		task := entity.Task{
			ID:            uuid.New().String()[:32],
			ProjectID:     projectID,
			Title:         title,
			Description:   description,
			Status:        entity.TaskStatusPending,
			Priority:      priority,
			CreatedBy:     userID,
			CreatedByGate: gate.GateKey,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.tasks.Create(ctx, &task); err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}
