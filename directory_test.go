package rbac

import (
	"context"
	"errors"
	"testing"
)

func testDirectory(t *testing.T) (*Directory, *Catalog) {
	t.Helper()
	cat, principals := testCatalog(t)
	return NewDirectory(principals, cat, nil), cat
}

func TestAssignRoleRequiresActiveRole(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	retired := testRole("retired")
	retired.Status = RoleInactive
	if err := cat.UpsertRole(ctx, retired); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.AssignRole(ctx, "u1", "retired"); !errors.Is(err, ErrRoleInactive) {
		t.Fatalf("expected ErrRoleInactive, got %v", err)
	}
	if err := dir.AssignRole(ctx, "u1", "missing"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	if err := cat.UpsertRole(ctx, testRole("staff")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.AssignRole(ctx, "u1", "staff"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	p, err := dir.GetPrincipal(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.RoleID != "staff" {
		t.Fatalf("unexpected role %q", p.RoleID)
	}
}

func TestAssignRolePreservesOverrides(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	for _, id := range []string{"staff", "admin"} {
		if err := cat.UpsertRole(ctx, testRole(id)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := dir.AssignRole(ctx, "u2", "staff"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := dir.SetOverride(ctx, "u2", "financial", ActionRead, true); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if err := dir.AssignRole(ctx, "u2", "admin"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	p, err := dir.GetPrincipal(ctx, "u2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, ok := p.Override("financial", ActionRead); !ok || !v {
		t.Fatalf("override lost on reassignment: %+v", p.Overrides)
	}
}

func TestSetOverrideRejectsUnknownAction(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	if err := cat.UpsertRole(ctx, testRole("staff")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.AssignRole(ctx, "u3", "staff"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := dir.SetOverride(ctx, "u3", "financial", Action("execute"), true); err == nil {
		t.Fatalf("expected unknown action to be rejected")
	}
}

func TestClearOverrideRemovesEmptyModuleMap(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	if err := cat.UpsertRole(ctx, testRole("staff")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.AssignRole(ctx, "u4", "staff"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := dir.SetOverride(ctx, "u4", "financial", ActionRead, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := dir.ClearOverride(ctx, "u4", "financial", ActionRead); err != nil {
		t.Fatalf("clear: %v", err)
	}
	p, err := dir.GetPrincipal(ctx, "u4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := p.Overrides["financial"]; ok {
		t.Fatalf("empty override map not pruned: %+v", p.Overrides)
	}
}

func TestProvisionValidatesPrincipal(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	if err := dir.Provision(ctx, &Principal{}); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if err := dir.Provision(ctx, &Principal{UserID: "u5", RoleID: "missing"}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	if err := cat.UpsertRole(ctx, testRole("staff")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p := NewPrincipalBuilder("u5").Role("staff").Override("financial", ActionWrite, false).Build()
	if err := dir.Provision(ctx, p); err != nil {
		t.Fatalf("provision: %v", err)
	}
	n, err := dir.CountByRole(ctx, "staff")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 principal on staff, got %d", n)
	}
}

func TestRemovePrincipal(t *testing.T) {
	dir, cat := testDirectory(t)
	ctx := context.Background()

	if err := cat.UpsertRole(ctx, testRole("staff")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dir.AssignRole(ctx, "u6", "staff"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := dir.RemovePrincipal(ctx, "u6"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := dir.GetPrincipal(ctx, "u6"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}
