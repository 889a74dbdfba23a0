package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"github.com/timbercraft/tcs-mes/internal/shop/testutil"
)

// TestEvaluateRecordsFailures tests that a failing evaluation returns
// actionable reasons and writes an audit record.
func TestEvaluateRecordsFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Empty Project")
	gate := testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeMinRooms,
		MinCount:        1,
		ErrorMessage:    "项目至少需要一个房间",
		HelpText:        "在设计页添加房间后重试",
		ActionLabel:     "添加房间",
		Sequence:        1,
	})
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeFieldNotNull,
		TargetField:     "description",
		ErrorMessage:    "项目描述不能为空",
		Sequence:        2,
	})

	var failedEvents []service.Event
	svcs.Bus.Subscribe(service.EventGateFailed, "gate-failed-recorder", func(ctx context.Context, evt service.Event) error {
		failedEvents = append(failedEvents, evt)
		return nil
	})

	result, err := svcs.Gate.Evaluate(ctx, project.ID, "design_signoff", "user-1")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Passed {
		t.Fatal("expected evaluation to fail")
	}
	if len(result.FailureReasons) != 2 {
		t.Fatalf("expected 2 failure reasons, got %d", len(result.FailureReasons))
	}
	first := result.FailureReasons[0]
	if first.Message != "项目至少需要一个房间" {
		t.Fatalf("unexpected message: %s", first.Message)
	}
	if first.HelpText == "" || first.ActionLabel == "" {
		t.Fatal("expected help text and action label on first reason")
	}

	// Append-only audit trail
	evals, err := repos.Gate.ListEvaluations(ctx, project.ID)
	if err != nil {
		t.Fatalf("list evaluations failed: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 evaluation record, got %d", len(evals))
	}
	if evals[0].Passed {
		t.Fatal("expected recorded evaluation to be failed")
	}
	if len(evals[0].FailureReasons) != 2 {
		t.Fatalf("expected 2 recorded reasons, got %d", len(evals[0].FailureReasons))
	}

	// Evaluation has no side effects on locks
	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 0 {
		t.Fatalf("expected no locks from evaluate, got %d", len(active))
	}

	// Distinct failure event carries the reasons
	if len(failedEvents) != 1 {
		t.Fatalf("expected 1 gate failed event, got %d", len(failedEvents))
	}
	reasons, ok := failedEvents[0].Payload["failure_reasons"].([]string)
	if !ok || len(reasons) != 2 {
		t.Fatalf("expected 2 failure reasons on event, got %v", failedEvents[0].Payload["failure_reasons"])
	}
}

// TestEvaluatePassesWhenRequirementsMet tests requirement checks against
// seeded project data.
func TestEvaluatePassesWhenRequirementsMet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Ready Project")
	testutil.SeedRoom(t, db, project.ID, "Kitchen")
	testutil.SeedBomLine(t, db, project.ID, "Side panel")
	testutil.SeedBomLine(t, db, project.ID, "Shelf stock")
	gate := testutil.SeedGate(t, db, "procurement_release", entity.ProjectStageSourcing, false, true, false)
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeMinBomLines,
		MinCount:        2,
		ErrorMessage:    "BOM 行数不足",
		Sequence:        1,
	})
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeFieldEquals,
		TargetField:     "stage",
		TargetValue:     entity.ProjectStageDesign,
		ErrorMessage:    "阶段不匹配",
		Sequence:        2,
	})

	result, err := svcs.Gate.Evaluate(ctx, project.ID, "procurement_release", "user-1")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected pass, got failures %v", result.FailureReasons)
	}
}

// TestPassBlockedGateRejectsOnFailure tests that a blocking gate refuses
// to pass and applies nothing.
func TestPassBlockedGateRejectsOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Empty Project")
	gate := testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeMinCabinets,
		MinCount:        1,
		ErrorMessage:    "项目至少需要一个柜体",
		Sequence:        1,
	})

	result, err := svcs.Gate.Pass(ctx, project.ID, "design_signoff", "user-1")
	if !errors.Is(err, service.ErrGateNotPassed) {
		t.Fatalf("expected ErrGateNotPassed, got %v", err)
	}
	if result == nil || result.Evaluation == nil || result.Evaluation.Passed {
		t.Fatal("expected failed evaluation attached to result")
	}

	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 0 {
		t.Fatalf("expected no locks after blocked pass, got %d", len(active))
	}
	p, _ := repos.Project.FindByID(ctx, project.ID)
	if p.DesignLockedAt != nil {
		t.Fatal("expected design stamp unset after blocked pass")
	}
}

// TestPassNonBlockingGateProceedsOnFailure tests the advisory gate path.
func TestPassNonBlockingGateProceedsOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Rush Job")
	gate := testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	db.Model(&entity.Gate{}).Where("id = ?", gate.ID).Update("is_blocking", false)
	testutil.SeedRequirement(t, db, gate.ID, entity.GateRequirement{
		RequirementType: entity.RequirementTypeMinRooms,
		MinCount:        1,
		ErrorMessage:    "项目至少需要一个房间",
		Sequence:        1,
	})

	result, err := svcs.Gate.Pass(ctx, project.ID, "design_signoff", "user-1")
	if err != nil {
		t.Fatalf("expected non-blocking gate to pass, got %v", err)
	}
	if result.Evaluation.Passed {
		t.Fatal("expected evaluation recorded as failed")
	}
	if len(result.LocksCreated) != 6 {
		t.Fatalf("expected 6 locks created, got %d", len(result.LocksCreated))
	}

	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 6 {
		t.Fatalf("expected 6 active locks, got %d", len(active))
	}
}

// TestPassCreatesTemplateTasksIdempotently tests task generation on pass.
func TestPassCreatesTemplateTasksIdempotently(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Lam Kitchen")
	gate := testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	db.Model(&entity.Gate{}).Where("id = ?", gate.ID).Updates(map[string]interface{}{
		"creates_tasks_on_pass": true,
		"task_templates_json": entity.JSONBArray{
			map[string]interface{}{"title": "生成下料单", "priority": entity.TaskPriorityHigh},
			map[string]interface{}{"title": "确认五金清单", "description": "核对铰链与滑轨型号"},
		},
	})

	first, err := svcs.Gate.Pass(ctx, project.ID, "design_signoff", "user-1")
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if len(first.TasksCreated) != 2 {
		t.Fatalf("expected 2 tasks created, got %d", len(first.TasksCreated))
	}
	for _, task := range first.TasksCreated {
		if task.CreatedByGate != "design_signoff" {
			t.Fatalf("expected task tagged with gate, got %q", task.CreatedByGate)
		}
		if task.Status != entity.TaskStatusPending {
			t.Fatalf("expected pending task, got %s", task.Status)
		}
	}

	// Second pass neither duplicates tasks nor locks
	second, err := svcs.Gate.Pass(ctx, project.ID, "design_signoff", "user-1")
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if len(second.TasksCreated) != 0 {
		t.Fatalf("expected 0 tasks on re-pass, got %d", len(second.TasksCreated))
	}
	if len(second.LocksCreated) != 0 {
		t.Fatalf("expected 0 locks on re-pass, got %d", len(second.LocksCreated))
	}

	all, _ := repos.Task.ListByProject(ctx, project.ID)
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks total, got %d", len(all))
	}
}

// TestEvaluateInactiveGate tests the disabled gate guard.
func TestEvaluateInactiveGate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Old Workflow")
	gate := testutil.SeedGate(t, db, "legacy_gate", entity.ProjectStageDesign, false, false, false)
	db.Model(&entity.Gate{}).Where("id = ?", gate.ID).Update("is_active", false)

	_, err := svcs.Gate.Evaluate(ctx, project.ID, "legacy_gate", "user-1")
	if !errors.Is(err, service.ErrGateInactive) {
		t.Fatalf("expected ErrGateInactive, got %v", err)
	}
}
