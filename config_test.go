package rbac

import (
	"context"
	"errors"
	"testing"
)

const sampleYAML = `
version: 1
modules: [students, academics]
max_inheritance_depth: 4
restrictions:
  own_data_only: ["students:read"]
engine:
  audit_buffer: 64
roles:
  - id: dept-head
    name: Department Head
    parent_id: faculty
    matrix:
      students: {read: true, write: true}
      academics: {read: true, write: true, delete: true}
  - id: faculty
    name: Faculty Member
    restrictions: [own_data_only]
    matrix:
      students: {read: true}
      academics: {read: true, write: true}
principals:
  - user_id: alice
    role_id: dept-head
    overrides:
      students:
        write: false
`

func TestLoadYAMLConfig(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != 1 || len(cfg.Roles) != 2 || len(cfg.Principals) != 1 {
		t.Fatalf("unexpected shape: %+v", cfg)
	}
	if !cfg.Roles[0].Matrix["academics"].Delete {
		t.Fatalf("matrix cell lost in parse: %+v", cfg.Roles[0].Matrix)
	}
	if v, ok := cfg.Principals[0].Override("students", ActionWrite); !ok || v {
		t.Fatalf("override lost in parse: %+v", cfg.Principals[0].Overrides)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := loader.LoadJSON(data)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(back.Roles) != len(cfg.Roles) || back.Roles[0].ParentID != "faculty" {
		t.Fatalf("round trip lost data: %+v", back.Roles)
	}
}

func TestValidateAcceptsOutOfOrderParents(t *testing.T) {
	// dept-head precedes faculty in the file; sorting must fix that.
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnknownParent(t *testing.T) {
	cfg := &Config{
		Modules: []Module{"students"},
		Roles: []*Role{
			NewRoleBuilder("students").ID("orphan").Parent("gone").Build(),
		},
	}
	if err := cfg.Validate(context.Background()); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
}

func TestValidateRejectsParentCycle(t *testing.T) {
	cfg := &Config{
		Modules: []Module{"students"},
		Roles: []*Role{
			NewRoleBuilder("students").ID("a").Parent("b").Build(),
			NewRoleBuilder("students").ID("b").Parent("a").Build(),
		},
	}
	if err := cfg.Validate(context.Background()); err == nil {
		t.Fatalf("expected mutual-parent config to fail validation")
	}
}

func TestValidateRejectsIncompleteMatrix(t *testing.T) {
	cfg := &Config{
		Modules: []Module{"students", "academics"},
		Roles: []*Role{
			NewRoleBuilder("students").ID("partial").Build(),
		},
	}
	if err := cfg.Validate(context.Background()); !errors.Is(err, ErrInvalidMatrix) {
		t.Fatalf("expected ErrInvalidMatrix, got %v", err)
	}
}

func TestApplySeedsCatalogAndDirectory(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	catalog, directory := cfg.scratch()
	if err := cfg.Apply(ctx, catalog, directory); err != nil {
		t.Fatalf("apply: %v", err)
	}
	roles, err := catalog.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	p, err := directory.GetPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if p.RoleID != "dept-head" {
		t.Fatalf("unexpected assignment: %+v", p)
	}
}

func TestConfigStats(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.Stats()
	if s.Roles != 2 || s.ActiveRoles != 2 || s.Principals != 1 || s.Restrictions != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.MaxDepth != 4 || s.Modules != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.AvgLevel <= 0 {
		t.Fatalf("expected nonzero average permission level, got %f", s.AvgLevel)
	}
}

func TestNewEngineFromConfig(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	engine, err := NewEngineFromConfig(ctx, cfg,
		NewMemoryRoleStore(), NewMemoryPrincipalStore(), NewMemoryAuditStore(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	dec := engine.IsAllowed(ctx, "alice", "academics", ActionDelete)
	if !dec.Allowed || dec.Reason != ReasonGrantedByRole {
		t.Fatalf("expected dept-head delete grant, got %+v", dec)
	}
	dec = engine.IsAllowed(ctx, "alice", "students", ActionWrite)
	if dec.Allowed || dec.Reason != ReasonDeniedByOverride {
		t.Fatalf("expected override deny, got %+v", dec)
	}
	dec = engine.IsAllowed(ctx, "alice", "students", ActionRead)
	if !dec.Allowed || dec.MatchedRestriction != "own_data_only" {
		t.Fatalf("expected restriction surfaced, got %+v", dec)
	}
}
