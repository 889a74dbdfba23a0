package service_test

import (
	"context"
	"testing"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"github.com/timbercraft/tcs-mes/internal/shop/testutil"
)

// TestApplyGateLocksIdempotent tests that passing the same gate twice
// does not create duplicate active locks.
func TestApplyGateLocksIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Wilson Kitchen")
	testutil.SeedRoom(t, db, project.ID, "Kitchen")
	testutil.SeedBomLine(t, db, project.ID, "Side panel")
	gate, err := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if err != nil {
		t.Fatalf("failed to load gate: %v", err)
	}

	designLockEvents := 0
	svcs.Bus.Subscribe(service.EventDesignLocked, "design-lock-counter", func(ctx context.Context, evt service.Event) error {
		designLockEvents++
		return nil
	})

	created, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1")
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	// Design lock covers Cabinet, CabinetSection, Door, Drawer, Shelf, Pullout
	if len(created) != 6 {
		t.Fatalf("expected 6 locks created, got %d", len(created))
	}
	for _, l := range created {
		if l.LockLevel != entity.LockLevelFull {
			t.Fatalf("expected full lock, got %s", l.LockLevel)
		}
		if l.EntityID != nil {
			t.Fatalf("expected project-wide lock, got entity_id %v", *l.EntityID)
		}
	}

	// Second pass creates nothing new
	again, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1")
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 new locks on re-apply, got %d", len(again))
	}

	active, err := repos.Lock.ListActive(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed to list locks: %v", err)
	}
	if len(active) != 6 {
		t.Fatalf("expected 6 active locks total, got %d", len(active))
	}

	// Project stamps and both snapshots captured once, at design-lock time
	p, err := repos.Project.FindByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed to reload project: %v", err)
	}
	if p.DesignLockedAt == nil {
		t.Fatal("expected design_locked_at to be set")
	}
	if p.PricingSnapshot == nil {
		t.Fatal("expected pricing snapshot to be captured")
	}
	if p.BOMSnapshot == nil {
		t.Fatal("expected BOM snapshot to be captured at design lock")
	}
	if lineCount, ok := p.BOMSnapshot["line_count"].(float64); !ok || lineCount != 1 {
		t.Fatalf("expected BOM snapshot with 1 line, got %v", p.BOMSnapshot["line_count"])
	}

	// Category event fired for the first application only
	if designLockEvents != 1 {
		t.Fatalf("expected 1 design lock event, got %d", designLockEvents)
	}
}

// TestLockLevelSupremacy tests that a full lock answers lock checks for
// narrower levels too.
func TestLockLevelSupremacy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Baker Pantry")
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	for _, level := range []string{entity.LockLevelFull, entity.LockLevelDimensions, entity.LockLevelMaterials} {
		locked, err := svcs.Lock.IsLocked(ctx, project.ID, entity.EntityTypeCabinet, nil, level)
		if err != nil {
			t.Fatalf("IsLocked(%s) failed: %v", level, err)
		}
		if !locked {
			t.Fatalf("expected full lock to cover level %s", level)
		}
	}
}

// TestUnlockAndRelockRoundTrip tests the release/rebuild cycle a change
// order drives.
func TestUnlockAndRelockRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Nguyen Bath")
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "procurement_release", entity.ProjectStageSourcing, false, true, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Procurement lock stamps the project but captures no snapshots:
	// those belong to the design lock
	p, _ := repos.Project.FindByID(ctx, project.ID)
	if p.ProcurementLockedAt == nil {
		t.Fatal("expected procurement_locked_at to be set")
	}
	if p.PricingSnapshot != nil || p.BOMSnapshot != nil {
		t.Fatal("expected no snapshots from a procurement-only lock")
	}

	co, err := svcs.ChangeOrder.Create(ctx, project.ID, "user-1", createReq("Swap edge banding", "procurement_release"))
	if err != nil {
		t.Fatalf("create CO failed: %v", err)
	}

	released, err := svcs.Lock.UnlockForChangeOrder(ctx, co, "user-2")
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 lock released, got %d", released)
	}

	active, _ := repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 0 {
		t.Fatalf("expected no active locks after unlock, got %d", len(active))
	}

	// Released lock keeps its audit trail
	all, _ := repos.Lock.ListActiveByGate(ctx, project.ID, "")
	if len(all) != 0 {
		t.Fatalf("expected no active locks, got %d", len(all))
	}

	created, err := svcs.Lock.RelockAfterChangeOrder(ctx, co, "user-2")
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 lock recreated, got %d", created)
	}

	active, _ = repos.Lock.ListActive(ctx, project.ID)
	if len(active) != 1 {
		t.Fatalf("expected 1 active lock after relock, got %d", len(active))
	}
}
