package rbac_test

import (
	"context"
	"testing"

	"github.com/campuskit/rbac"
)

var engineModules = []rbac.Module{"students", "academics", "financial"}

type testEnv struct {
	engine    *rbac.Engine
	catalog   *rbac.Catalog
	directory *rbac.Directory
	audit     *rbac.MemoryAuditStore
}

func newTestEnv(t *testing.T, opts ...rbac.EngineOption) *testEnv {
	t.Helper()
	roleStore := rbac.NewMemoryRoleStore()
	principalStore := rbac.NewMemoryPrincipalStore()
	audit := rbac.NewMemoryAuditStore()

	catalog := rbac.NewCatalog(roleStore,
		rbac.WithModules(engineModules),
		rbac.WithUsageCounter(principalStore),
	)
	resolver, err := rbac.NewResolver(catalog)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	directory := rbac.NewDirectory(principalStore, catalog, nil)
	engine, err := rbac.NewEngine(catalog, resolver, directory, audit, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	faculty := rbac.NewRoleBuilder(engineModules...).
		ID("faculty").Name("Faculty Member").
		Grant("academics", rbac.ActionRead, rbac.ActionWrite).
		Build()
	if err := catalog.UpsertRole(ctx, faculty); err != nil {
		t.Fatalf("upsert faculty: %v", err)
	}
	if err := directory.Provision(ctx, rbac.NewPrincipalBuilder("alice").Role("faculty").Build()); err != nil {
		t.Fatalf("provision alice: %v", err)
	}
	return &testEnv{engine: engine, catalog: catalog, directory: directory, audit: audit}
}

func TestDecisionFromRoleMatrix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dec := env.engine.IsAllowed(ctx, "alice", "academics", rbac.ActionWrite)
	if !dec.Allowed || dec.Reason != rbac.ReasonGrantedByRole {
		t.Fatalf("expected role grant, got %+v", dec)
	}

	dec = env.engine.IsAllowed(ctx, "alice", "financial", rbac.ActionWrite)
	if dec.Allowed || dec.Reason != rbac.ReasonDeniedByRole {
		t.Fatalf("expected role deny, got %+v", dec)
	}

	dec = env.engine.IsAllowed(ctx, "alice", "payroll", rbac.ActionRead)
	if dec.Allowed || dec.Reason != rbac.ReasonNoMatrixEntry {
		t.Fatalf("expected no-matrix-entry deny, got %+v", dec)
	}
}

func TestOverrideReplacesRoleCell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One-off grant on a module the role denies.
	if err := env.directory.SetOverride(ctx, "alice", "financial", rbac.ActionRead, true); err != nil {
		t.Fatalf("set override: %v", err)
	}
	dec := env.engine.IsAllowed(ctx, "alice", "financial", rbac.ActionRead)
	if !dec.Allowed || dec.Reason != rbac.ReasonGrantedByOverride {
		t.Fatalf("expected override grant, got %+v", dec)
	}
	dec = env.engine.IsAllowed(ctx, "alice", "financial", rbac.ActionWrite)
	if dec.Allowed || dec.Reason != rbac.ReasonDeniedByRole {
		t.Fatalf("expected role deny untouched, got %+v", dec)
	}

	// Suspension: the role allows write, the account is individually revoked.
	if err := env.directory.SetOverride(ctx, "alice", "academics", rbac.ActionWrite, false); err != nil {
		t.Fatalf("set override: %v", err)
	}
	dec = env.engine.IsAllowed(ctx, "alice", "academics", rbac.ActionWrite)
	if dec.Allowed || dec.Reason != rbac.ReasonDeniedByOverride {
		t.Fatalf("expected override deny, got %+v", dec)
	}

	// Clearing defers back to the role.
	if err := env.directory.ClearOverride(ctx, "alice", "academics", rbac.ActionWrite); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	dec = env.engine.IsAllowed(ctx, "alice", "academics", rbac.ActionWrite)
	if !dec.Allowed || dec.Reason != rbac.ReasonGrantedByRole {
		t.Fatalf("expected role grant restored, got %+v", dec)
	}
}

func TestFailClosedOnDanglingParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.catalog.UpsertRole(ctx, rbac.NewRoleBuilder(engineModules...).ID("root").Build()); err != nil {
		t.Fatalf("upsert root: %v", err)
	}
	child := rbac.NewRoleBuilder(engineModules...).ID("child").Parent("root").GrantAll("students").Build()
	if err := env.catalog.UpsertRole(ctx, child); err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	if err := env.directory.AssignRole(ctx, "bob", "child"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.catalog.DeleteRole(ctx, "root"); err != nil {
		t.Fatalf("delete root: %v", err)
	}

	dec := env.engine.IsAllowed(ctx, "bob", "students", rbac.ActionRead)
	if dec.Allowed {
		t.Fatalf("resolution failure must fail closed, got %+v", dec)
	}
	if dec.Reason != rbac.ReasonResolutionError {
		t.Fatalf("expected resolution_error, got %q", dec.Reason)
	}

	env.engine.Flush()
	recs, err := env.audit.GetAccessLog(ctx, rbac.AuditFilter{Severity: rbac.SeverityCritical})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(recs) != 1 || recs[0].Category != rbac.CategoryResolution || recs[0].Detail == "" {
		t.Fatalf("expected one critical resolution record with detail, got %+v", recs)
	}
}

func TestUnknownPrincipalDenied(t *testing.T) {
	env := newTestEnv(t)

	dec := env.engine.IsAllowed(context.Background(), "nobody", "academics", rbac.ActionRead)
	if dec.Allowed || dec.Reason != rbac.ReasonResolutionError {
		t.Fatalf("expected fail-closed deny, got %+v", dec)
	}
}

func TestAuditCompleteness(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		env.engine.IsAllowed(ctx, "alice", "academics", rbac.ActionRead)
	}
	env.engine.Flush()

	recs, err := env.engine.GetAccessLog(ctx, rbac.AuditFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("expected %d audit records, got %d", n, len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.After(recs[i-1].Timestamp) {
			t.Fatalf("records not ordered newest first at %d", i)
		}
	}
}

func TestRestrictionSurfacedNotEnforced(t *testing.T) {
	mapper := rbac.ScopeMap{
		"own_data_only": {"students:read", "academics:*"},
	}
	env := newTestEnv(t, rbac.WithRestrictionMapper(mapper))
	ctx := context.Background()

	restricted := rbac.NewRoleBuilder(engineModules...).
		ID("counselor").
		Grant("academics", rbac.ActionRead).
		Restrict("own_data_only").
		Build()
	if err := env.catalog.UpsertRole(ctx, restricted); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := env.directory.AssignRole(ctx, "carol", "counselor"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	dec := env.engine.IsAllowed(ctx, "carol", "academics", rbac.ActionRead)
	if !dec.Allowed {
		t.Fatalf("restriction must not flip an allow: %+v", dec)
	}
	if dec.MatchedRestriction != "own_data_only" {
		t.Fatalf("expected matched restriction surfaced, got %q", dec.MatchedRestriction)
	}

	// Denied decisions carry no restriction.
	dec = env.engine.IsAllowed(ctx, "carol", "academics", rbac.ActionWrite)
	if dec.Allowed || dec.MatchedRestriction != "" {
		t.Fatalf("unexpected restriction on deny: %+v", dec)
	}
}

func TestHasSpecialPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := rbac.NewRoleBuilder(engineModules...).ID("registrar").Special("grade_override").Build()
	if err := env.catalog.UpsertRole(ctx, role); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := env.directory.AssignRole(ctx, "dave", "registrar"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if !env.engine.HasSpecialPermission(ctx, "dave", "grade_override") {
		t.Fatalf("expected capability granted")
	}
	if env.engine.HasSpecialPermission(ctx, "dave", "budget_freeze") {
		t.Fatalf("unexpected capability")
	}
	if env.engine.HasSpecialPermission(ctx, "ghost", "grade_override") {
		t.Fatalf("unknown principals never hold capabilities")
	}
}

func TestExplainCarriesTrace(t *testing.T) {
	env := newTestEnv(t)

	dec := env.engine.Explain(context.Background(), "alice", "academics", rbac.ActionRead)
	if !dec.Allowed {
		t.Fatalf("expected allow, got %+v", dec)
	}
	if len(dec.Trace) == 0 {
		t.Fatalf("expected trace lines")
	}
	// Plain IsAllowed must stay trace-free.
	dec = env.engine.IsAllowed(context.Background(), "alice", "academics", rbac.ActionRead)
	if len(dec.Trace) != 0 {
		t.Fatalf("unexpected trace on hot path: %v", dec.Trace)
	}
}

func TestEngineStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.engine.IsAllowed(ctx, "alice", "academics", rbac.ActionRead)
	env.engine.IsAllowed(ctx, "alice", "financial", rbac.ActionDelete)
	env.engine.Flush()

	stats := env.engine.Stats()
	if stats.Allowed != 1 || stats.Denied != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.AuditFailures != 0 {
		t.Fatalf("unexpected audit failures: %+v", stats)
	}
}
