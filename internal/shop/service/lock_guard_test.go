package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/timbercraft/tcs-mes/internal/shop/entity"
	"github.com/timbercraft/tcs-mes/internal/shop/service"
	"github.com/timbercraft/tcs-mes/internal/shop/testutil"
)

// TestGuardRejectsLockedField tests that editing a locked dimension is
// rejected with full conflict context.
func TestGuardRejectsLockedField(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Ortiz Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	err := svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"width_inches": 42.0,
	})
	var violation *service.LockViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected LockViolationError, got %v", err)
	}
	if violation.GateKey != "design_signoff" {
		t.Fatalf("expected gate design_signoff, got %s", violation.GateKey)
	}
	if violation.LockLevel != entity.LockLevelFull {
		t.Fatalf("expected full level, got %s", violation.LockLevel)
	}
	if len(violation.Fields) != 1 || violation.Fields[0] != "width_inches" {
		t.Fatalf("expected offending field width_inches, got %v", violation.Fields)
	}

	// Value unchanged
	var width float64
	db.Table("cabinets").Select("width_inches").Where("id = ?", cabinet.ID).Scan(&width)
	if width != 36 {
		t.Fatalf("expected width unchanged at 36, got %v", width)
	}
}

// TestGuardAllowsExemptFields tests that QC and notes fields stay
// editable under a full lock.
func TestGuardAllowsExemptFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Ortiz Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	err := svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"qc_status": "passed",
		"qc_notes":  "checked face frame alignment",
	})
	if err != nil {
		t.Fatalf("expected exempt fields to pass, got %v", err)
	}

	var status string
	db.Table("cabinets").Select("qc_status").Where("id = ?", cabinet.ID).Scan(&status)
	if status != "passed" {
		t.Fatalf("expected qc_status passed, got %s", status)
	}
}

// TestGuardBypassContext tests the change-order apply path bypass.
func TestGuardBypassContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Ortiz Kitchen")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "design_signoff", entity.ProjectStageDesign, true, false, false).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	err := svcs.Guard.GuardedUpdate(service.WithLockBypass(ctx), entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"width_inches": 42.0,
	})
	if err != nil {
		t.Fatalf("expected bypass to pass, got %v", err)
	}
}

// TestGuardAllowsUnlockedProject tests that edits pass with no active locks.
func TestGuardAllowsUnlockedProject(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Draft Project")
	cabinet := testutil.SeedCabinet(t, db, project.ID)

	err := svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"width_inches": 48.0,
		"box_material": "walnut_ply",
	})
	if err != nil {
		t.Fatalf("expected unlocked edit to pass, got %v", err)
	}
}

// TestGuardRejectsUnknownField tests the field whitelist.
func TestGuardRejectsUnknownField(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, _ := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Draft Project")
	cabinet := testutil.SeedCabinet(t, db, project.ID)

	err := svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"project_id": "other-project",
	})
	if err == nil {
		t.Fatal("expected whitelist rejection for project_id")
	}
}

// TestDimensionLockLeavesMaterialsEditable tests the production lock level.
func TestDimensionLockLeavesMaterialsEditable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svcs, repos := testutil.SetupServices(t, db)
	ctx := context.Background()

	project := testutil.SeedProject(t, db, "Mills Closet")
	cabinet := testutil.SeedCabinet(t, db, project.ID)
	gate, _ := repos.Gate.FindByKey(ctx, testutil.SeedGate(t, db, "production_release", entity.ProjectStageProduction, false, false, true).GateKey)
	if _, err := svcs.Lock.ApplyGateLocks(ctx, project.ID, gate, "user-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Dimensions frozen
	err := svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"depth_inches": 25.0,
	})
	var violation *service.LockViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected violation for dimension, got %v", err)
	}

	// Materials still editable under dimensions lock
	err = svcs.Guard.GuardedUpdate(ctx, entity.EntityTypeCabinet, cabinet.ID, map[string]interface{}{
		"finish_type": "matte_lacquer",
	})
	if err != nil {
		t.Fatalf("expected material edit to pass under dimensions lock, got %v", err)
	}
}
