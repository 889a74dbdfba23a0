package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"github.com/timbercraft/tcs-mes/internal/shop/testutil"
)

func createReq(title, gateKey string) *service.CreateChangeOrderRequest {
	return &service.CreateChangeOrderRequest{
		Title:       title,
		Reason:      entity.ChangeOrderReasonClientRequest,
		UnlocksGate: gateKey,
	}
}

// TestCreateRequiresUnlocksGate tests that a change order without a target
// gate is rejected at creation.
func TestCreateRequiresUnlocksGate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Kim Kitchen")

	_, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", &service.CreateChangeOrderRequest{
		Title: "Missing gate",
	})
	if !errors.Is(err, service.ErrUnlocksGateRequired) {
		t.Fatalf("expected ErrUnlocksGateRequired, got %v", err)
	}

	_, err = svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Bad gate", "no_such_gate"))
	if err == nil {
		t.Fatal("expected error for unknown gate")
	}
}

// TestOnePendingChangeOrderPerGate tests the pending uniqueness invariant.
func TestOnePendingChangeOrderPerGate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Kim Kitchen")
	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)

	first, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Widen sink base", "design_signoff"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svcs.ChangeOrder.Submit(ctx, first.ID, "user-1"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Draft CO on the same gate is fine only until one is pending
	_, err = svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Second change", "design_signoff"))
	if !errors.Is(err, service.ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}
}

// TestChangeOrderFullLifecycle walks draft -> submitted -> approved -> applied
// and checks locks, stop actions and project flags at each step.
func TestChangeOrderFullLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Wilson Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	task := testutil.SeedTask(t, db, project.ID, "Cut list", entity.TaskStatusInProgress)
	po := testutil.SeedPurchaseOrder(t, db, project.ID, entity.POStatusSent)

	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "designer"); err != nil {
		t.Fatalf("apply locks failed: %v", err)
	}

	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "designer", createReq("Widen sink base to 42", "design_signoff"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if co.Status != entity.ChangeOrderStatusDraft {
		t.Fatalf("expected draft, got %s", co.Status)
	}

	// Line captures the old value at add time
	line, err := svcs.ChangeOrder.AddLine(ctx, co.ID, "designer", &service.AddLineRequest{
		EntityType:  entity.EntityTypeCabinet,
		EntityID:    cabinet.ID,
		FieldName:   "width_inches",
		NewValue:    "42",
		PriceImpact: 350,
	})
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if line.OldValue == nil || *line.OldValue != "36" {
		t.Fatalf("expected old value 36, got %v", line.OldValue)
	}

	// Submit sets the project pending flag
	if _, err := svcs.ChangeOrder.Submit(ctx, co.ID, "designer"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	p, _ := repos.Project.FindByID(ctx, project.ID)
	if !p.HasPendingChangeOrder || p.ActiveChangeOrderID == nil || *p.ActiveChangeOrderID != co.ID {
		t.Fatalf("expected pending flag with active CO %s", co.ID)
	}

	// Approve releases locks and the listener executes stop actions
	if _, err := svcs.ChangeOrder.Approve(ctx, co.ID, "owner", "go ahead"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 0 {
		t.Fatalf("expected no active locks after approve, got %d", len(active))
	}
	blockedTask, _ := repos.Task.FindByID(ctx, task.ID)
	if blockedTask.Status != entity.TaskStatusBlocked {
		t.Fatalf("expected task blocked, got %s", blockedTask.Status)
	}
	if blockedTask.StatusBeforeBlock == nil || *blockedTask.StatusBeforeBlock != entity.TaskStatusInProgress {
		t.Fatalf("expected previous status in_progress, got %v", blockedTask.StatusBeforeBlock)
	}
	heldPO, _ := repos.PurchaseOrder.FindByID(ctx, po.ID)
	if heldPO.Status != entity.POStatusOnHold {
		t.Fatalf("expected PO on_hold, got %s", heldPO.Status)
	}
	p, _ = repos.Project.FindByID(ctx, project.ID)
	if !p.DeliveryBlocked {
		t.Fatal("expected delivery blocked after approve")
	}

	// Edits to the released fields pass while unlocked
	err = svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"shop_notes": "waiting for CO apply",
	})
	if err != nil {
		t.Fatalf("expected edit during unlock window to pass, got %v", err)
	}

	// Apply writes the new value, restores locks and reverts stop actions
	applied, err := svcs.ChangeOrder.Apply(ctx, co.ID, "owner")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied.Status != entity.ChangeOrderStatusApplied {
		t.Fatalf("expected applied, got %s", applied.Status)
	}

	var width float64
	db.Table("cabinets").Select("width_inches").Where("id = ?", cabinet.ID).Scan(&width)
	if width != 42 {
		t.Fatalf("expected width 42 after apply, got %v", width)
	}

	active, _ = repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 6 {
		t.Fatalf("expected 6 active locks rebuilt, got %d", len(active))
	}

	restoredTask, _ := repos.Task.FindByID(ctx, task.ID)
	if restoredTask.Status != entity.TaskStatusInProgress {
		t.Fatalf("expected task restored to in_progress, got %s", restoredTask.Status)
	}
	restoredPO, _ := repos.PurchaseOrder.FindByID(ctx, po.ID)
	if restoredPO.Status != entity.POStatusSent {
		t.Fatalf("expected PO restored to sent, got %s", restoredPO.Status)
	}
	p, _ = repos.Project.FindByID(ctx, project.ID)
	if p.DeliveryBlocked {
		t.Fatal("expected delivery unblocked after apply")
	}
	if p.HasPendingChangeOrder {
		t.Fatal("expected pending flag cleared after apply")
	}
	if p.QuotedPrice != 45350 {
		t.Fatalf("expected quoted price 45350, got %v", p.QuotedPrice)
	}

	// Terminal status is immutable
	if _, err := svcs.ChangeOrder.Cancel(ctx, co.ID, "owner"); !errors.Is(err, service.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on cancelling applied CO, got %v", err)
	}
	if _, err := svcs.ChangeOrder.Approve(ctx, co.ID, "owner", ""); !errors.Is(err, service.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-approving applied CO, got %v", err)
	}
}

// TestCancelSubmittedChangeOrder tests that cancelling before approval
// clears the pending flag and touches no tasks, POs or locks.
func TestCancelSubmittedChangeOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Okafor Pantry")
	task := testutil.SeedTask(t, db, project.ID, "Cut panels", entity.TaskStatusInProgress)
	po := testutil.SeedPurchaseOrder(t, db, project.ID, entity.POStatusSent)

	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "designer"); err != nil {
		t.Fatalf("apply locks failed: %v", err)
	}

	createdEvents := 0
	svcs.Bus.Subscribe(service.EventChangeOrderCreated, "created-counter", func(ctx context.Context, evt service.Event) error {
		createdEvents++
		return nil
	})

	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "designer", createReq("Change toe kick", "design_signoff"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if createdEvents != 1 {
		t.Fatalf("expected 1 created event, got %d", createdEvents)
	}
	if _, err := svcs.ChangeOrder.Submit(ctx, co.ID, "designer"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	cancelled, err := svcs.ChangeOrder.Cancel(ctx, co.ID, "designer")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != entity.ChangeOrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// No stop actions ever ran: work untouched, locks still in place
	unchangedTask, _ := repos.Task.FindByID(ctx, task.ID)
	if unchangedTask.Status != entity.TaskStatusInProgress {
		t.Fatalf("expected task untouched, got %s", unchangedTask.Status)
	}
	unchangedPO, _ := repos.PurchaseOrder.FindByID(ctx, po.ID)
	if unchangedPO.Status != entity.POStatusSent {
		t.Fatalf("expected PO untouched, got %s", unchangedPO.Status)
	}
	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 6 {
		t.Fatalf("expected locks untouched, got %d", len(active))
	}

	var actionCount int64
	db.Model(&entity.ChangeOrderStopAction{}).Where("change_order_id = ?", co.ID).Count(&actionCount)
	if actionCount != 0 {
		t.Fatalf("expected no stop action rows, got %d", actionCount)
	}

	p, _ := repos.Project.FindByID(ctx, project.ID)
	if p.HasPendingChangeOrder || p.ActiveChangeOrderID != nil {
		t.Fatal("expected pending flag cleared after cancel")
	}
	if p.DeliveryBlocked {
		t.Fatal("expected delivery never blocked")
	}
}

// TestCancelApprovedChangeOrder tests that cancelling an approved CO
// rebuilds locks and reverts stop actions without applying any line.
func TestCancelApprovedChangeOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Hart Mudroom")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	task := testutil.SeedTask(t, db, project.ID, "Sand doors", entity.TaskStatusPending)

	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "designer"); err != nil {
		t.Fatalf("apply locks failed: %v", err)
	}

	co, _ := svcs.ChangeOrder.Create(ctx, project.ID, "designer", createReq("Change finish", "design_signoff"))
	if _, err := svcs.ChangeOrder.AddLine(ctx, co.ID, "designer", &service.AddLineRequest{
		EntityType: entity.EntityTypeCabinet,
		EntityID:   cabinet.ID,
		FieldName:  "finish_type",
		NewValue:   "oil_rubbed",
	}); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := svcs.ChangeOrder.Submit(ctx, co.ID, "designer"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svcs.ChangeOrder.Approve(ctx, co.ID, "owner", ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	cancelled, err := svcs.ChangeOrder.Cancel(ctx, co.ID, "owner")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != entity.ChangeOrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Locks rebuilt, stop actions reverted, line never applied
	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 6 {
		t.Fatalf("expected locks rebuilt on cancel, got %d", len(active))
	}
	restoredTask, _ := repos.Task.FindByID(ctx, task.ID)
	if restoredTask.Status != entity.TaskStatusPending {
		t.Fatalf("expected task restored, got %s", restoredTask.Status)
	}
	var finish string
	db.Table("cabinets").Select("finish_type").Where("id = ?", cabinet.ID).Scan(&finish)
	if finish != "clear_coat" {
		t.Fatalf("expected finish untouched, got %s", finish)
	}
	p, _ := repos.Project.FindByID(ctx, project.ID)
	if p.HasPendingChangeOrder {
		t.Fatal("expected pending flag cleared after cancel")
	}
}

// TestLinesOnlyEditableInDraft tests the line editing guard.
func TestLinesOnlyEditableInDraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Kim Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)

	co, _ := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Late line", "design_signoff"))
	if _, err := svcs.ChangeOrder.Submit(ctx, co.ID, "user-1"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err := svcs.ChangeOrder.AddLine(ctx, co.ID, "user-1", &service.AddLineRequest{
		EntityType: entity.EntityTypeCabinet,
		EntityID:   cabinet.ID,
		FieldName:  "width_inches",
		NewValue:   "40",
	})
	if !errors.Is(err, service.ErrLinesOnlyInDraft) {
		t.Fatalf("expected ErrLinesOnlyInDraft, got %v", err)
	}
}

// TestPreviewImpact tests the impact preview math.
func TestPreviewImpact(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Kim Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false)

	co, _ := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Price change", "design_signoff"))
	svcs.ChangeOrder.AddLine(ctx, co.ID, "user-1", &service.AddLineRequest{
		EntityType:  entity.EntityTypeCabinet,
		EntityID:    cabinet.ID,
		FieldName:   "width_inches",
		NewValue:    "42",
		PriceImpact: 350,
	})
	svcs.ChangeOrder.AddLine(ctx, co.ID, "user-1", &service.AddLineRequest{
		EntityType:  entity.EntityTypeCabinet,
		EntityID:    cabinet.ID,
		FieldName:   "box_material",
		NewValue:    "walnut_ply",
		PriceImpact: 800,
		BOMImpact:   entity.JSONB{"material_code": "WNT-3/4", "qty_delta": 2},
	})

	preview, err := svcs.ChangeOrder.PreviewImpact(ctx, co.ID)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.LineCount != 2 {
		t.Fatalf("expected 2 lines, got %d", preview.LineCount)
	}
	if preview.PriceDelta != 1150 {
		t.Fatalf("expected delta 1150, got %v", preview.PriceDelta)
	}
	if preview.ProjectedQuotedPrice != 46150 {
		t.Fatalf("expected projected 46150, got %v", preview.ProjectedQuotedPrice)
	}
	if preview.BOMDelta == nil {
		t.Fatal("expected BOM delta populated")
	}
}
