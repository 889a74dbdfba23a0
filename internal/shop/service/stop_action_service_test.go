package service_test

import (
	"context"
	"testing"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/testutil"
)

// TestStopActionsExecuteAndRevert tests the freeze/restore symmetry: every
// frozen object returns to its exact prior state.
func TestStopActionsExecuteAndRevert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Reyes Kitchen")
	pending := testutil.SeedTask(t, db, project.ID, "Order hinges", entity.TaskStatusPending)
	inProgress := testutil.SeedTask(t, db, project.ID, "Cut panels", entity.TaskStatusInProgress)
	done := testutil.SeedTask(t, db, project.ID, "Site measure", entity.TaskStatusCompleted)
	sent := testutil.SeedPurchaseOrder(t, db, project.ID, entity.POStatusSent)
	received := testutil.SeedPurchaseOrder(t, db, project.ID, entity.POStatusReceived)

	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Freeze test", "design_signoff"))
	if err != nil {
		t.Fatalf("create CO failed: %v", err)
	}

	summary, err := svcs.StopAction.Execute(ctx, co, "approver")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if summary.TasksBlocked != 2 {
		t.Fatalf("expected 2 tasks blocked, got %d", summary.TasksBlocked)
	}
	if summary.POsHeld != 1 {
		t.Fatalf("expected 1 PO held, got %d", summary.POsHeld)
	}
	if !summary.DeliveryBlocked {
		t.Fatal("expected delivery blocked")
	}

	// Completed work and received POs are untouched
	completedTask, _ := repos.Task.FindByID(ctx, done.ID)
	if completedTask.Status != entity.TaskStatusCompleted {
		t.Fatalf("expected completed task untouched, got %s", completedTask.Status)
	}
	receivedPO, _ := repos.PurchaseOrder.FindByID(ctx, received.ID)
	if receivedPO.Status != entity.POStatusReceived {
		t.Fatalf("expected received PO untouched, got %s", receivedPO.Status)
	}

	// Blocked objects remember their prior state
	blocked, _ := repos.Task.FindByID(ctx, inProgress.ID)
	if blocked.Status != entity.TaskStatusBlocked {
		t.Fatalf("expected blocked, got %s", blocked.Status)
	}
	if blocked.BlockedByChangeOrderID == nil || *blocked.BlockedByChangeOrderID != co.ID {
		t.Fatal("expected blocking CO recorded on task")
	}

	revert, err := svcs.StopAction.Revert(ctx, co, "applier")
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if revert.TasksUnblocked != 2 || revert.POsReleased != 1 || !revert.DeliveryUnblocked {
		t.Fatalf("unexpected revert summary: %+v", revert)
	}

	restoredPending, _ := repos.Task.FindByID(ctx, pending.ID)
	if restoredPending.Status != entity.TaskStatusPending {
		t.Fatalf("expected pending restored, got %s", restoredPending.Status)
	}
	restoredProgress, _ := repos.Task.FindByID(ctx, inProgress.ID)
	if restoredProgress.Status != entity.TaskStatusInProgress {
		t.Fatalf("expected in_progress restored, got %s", restoredProgress.Status)
	}
	if restoredProgress.BlockedByChangeOrderID != nil {
		t.Fatal("expected blocking CO cleared")
	}
	restoredPO, _ := repos.PurchaseOrder.FindByID(ctx, sent.ID)
	if restoredPO.Status != entity.POStatusSent {
		t.Fatalf("expected sent restored, got %s", restoredPO.Status)
	}
	p, _ := repos.Project.FindByID(ctx, project.ID)
	if p.DeliveryBlocked {
		t.Fatal("expected delivery unblocked")
	}
}

// TestStopActionsIdempotent tests that rerunning execute freezes nothing
// twice and writes no duplicate audit rows.
func TestStopActionsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Reyes Kitchen")
	testutil.SeedTask(t, db, project.ID, "Cut panels", entity.TaskStatusInProgress)
	testutil.SeedPurchaseOrder(t, db, project.ID, entity.POStatusConfirmed)

	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Freeze twice", "design_signoff"))
	if err != nil {
		t.Fatalf("create CO failed: %v", err)
	}

	if _, err := svcs.StopAction.Execute(ctx, co, "approver"); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	second, err := svcs.StopAction.Execute(ctx, co, "approver")
	if err != nil {
		t.Fatalf("second execute failed: %v", err)
	}
	if second.TasksBlocked != 0 || second.POsHeld != 0 || second.DeliveryBlocked {
		t.Fatalf("expected no-op on rerun, got %+v", second)
	}

	var count int64
	db.Model(&entity.ChangeOrderStopAction{}).Where("change_order_id = ?", co.ID).Count(&count)
	if count != 3 {
		t.Fatalf("expected 3 audit rows (task, po, delivery), got %d", count)
	}
}

// TestRevertSkipsAlreadyReverted tests that a second revert is a no-op.
func TestRevertSkipsAlreadyReverted(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Reyes Kitchen")
	testutil.SeedTask(t, db, project.ID, "Cut panels", entity.TaskStatusInProgress)

	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)
	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Revert twice", "design_signoff"))
	if err != nil {
		t.Fatalf("create CO failed: %v", err)
	}

	if _, err := svcs.StopAction.Execute(ctx, co, "approver"); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if _, err := svcs.StopAction.Revert(ctx, co, "applier"); err != nil {
		t.Fatalf("first revert failed: %v", err)
	}

	second, err := svcs.StopAction.Revert(ctx, co, "applier")
	if err != nil {
		t.Fatalf("second revert failed: %v", err)
	}
	if second.TasksUnblocked != 0 || second.POsReleased != 0 || second.DeliveryUnblocked {
		t.Fatalf("expected no-op on second revert, got %+v", second)
	}
}
