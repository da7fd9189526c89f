package rbac

import (
	"context"
	"sort"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Module is a capability domain gated by the engine (e.g. "financial").
// The set of modules is fixed at construction time; unknown modules never
// resolve implicitly.
type Module string

// DefaultModules is the module set used when no explicit configuration is
// supplied.
var DefaultModules = []Module{
	"students",
	"academics",
	"financial",
	"infrastructure",
	"security",
	"schedule",
	"graduation",
	"settings",
}

// Action is one of the four CRUD-style verbs checked per module. Admin does
// not imply the other three; each cell is granted independently.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Actions lists every action in evaluation order.
var Actions = []Action{ActionRead, ActionWrite, ActionDelete, ActionAdmin}

// ValidAction reports whether a is one of the four known verbs.
func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionAdmin:
		return true
	}
	return false
}

// PermissionSet is the per-module 4-tuple of grant booleans.
type PermissionSet struct {
	Read   bool `json:"read" yaml:"read"`
	Write  bool `json:"write" yaml:"write"`
	Delete bool `json:"delete" yaml:"delete"`
	Admin  bool `json:"admin" yaml:"admin"`
}

// Get returns the cell for the given action.
func (p PermissionSet) Get(a Action) bool {
	switch a {
	case ActionRead:
		return p.Read
	case ActionWrite:
		return p.Write
	case ActionDelete:
		return p.Delete
	case ActionAdmin:
		return p.Admin
	}
	return false
}

// Or returns the cell-wise OR of p and q.
func (p PermissionSet) Or(q PermissionSet) PermissionSet {
	return PermissionSet{
		Read:   p.Read || q.Read,
		Write:  p.Write || q.Write,
		Delete: p.Delete || q.Delete,
		Admin:  p.Admin || q.Admin,
	}
}

// PermissionMatrix maps every configured module to its grant tuple. A module
// missing from the matrix is a configuration error, not an implicit deny.
type PermissionMatrix map[Module]PermissionSet

// Clone returns a copy of the matrix.
func (m PermissionMatrix) Clone() PermissionMatrix {
	out := make(PermissionMatrix, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EmptyMatrix returns an all-false matrix covering the given modules.
func EmptyMatrix(modules []Module) PermissionMatrix {
	m := make(PermissionMatrix, len(modules))
	for _, mod := range modules {
		m[mod] = PermissionSet{}
	}
	return m
}

// RoleStatus gates whether a role can be freshly assigned to a principal.
// Status never gates inheritance: an inactive ancestor still contributes.
type RoleStatus string

const (
	RoleActive   RoleStatus = "active"
	RoleInactive RoleStatus = "inactive"
)

// Role is a named permission matrix with optional single-parent inheritance,
// additive special permissions and accumulating restrictions.
type Role struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Type         string           `json:"type,omitempty" yaml:"type,omitempty"`
	Matrix       PermissionMatrix `json:"matrix" yaml:"matrix"`
	ParentID     string           `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Special      []string         `json:"special,omitempty" yaml:"special,omitempty"`
	Restrictions []string         `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
	Status       RoleStatus       `json:"status" yaml:"status"`
	CreatedAt    time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy of the role.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Matrix = r.Matrix.Clone()
	dup.Special = append([]string(nil), r.Special...)
	dup.Restrictions = append([]string(nil), r.Restrictions...)
	return &dup
}

// Principal is the evaluated (user, role, overrides) tuple. Overrides are
// explicit per-cell exceptions; an absent cell defers to the resolved role.
type Principal struct {
	UserID    string                     `json:"user_id" yaml:"user_id"`
	RoleID    string                     `json:"role_id" yaml:"role_id"`
	Overrides map[Module]map[Action]bool `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Override returns the explicit cell for (module, action) and whether one is
// set.
func (p *Principal) Override(module Module, action Action) (bool, bool) {
	if p == nil || p.Overrides == nil {
		return false, false
	}
	cells, ok := p.Overrides[module]
	if !ok {
		return false, false
	}
	v, ok := cells[action]
	return v, ok
}

// Clone returns a deep copy of the principal.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	dup := *p
	if p.Overrides != nil {
		dup.Overrides = make(map[Module]map[Action]bool, len(p.Overrides))
		for mod, cells := range p.Overrides {
			c := make(map[Action]bool, len(cells))
			for a, v := range cells {
				c[a] = v
			}
			dup.Overrides[mod] = c
		}
	}
	return &dup
}

// Decision reason vocabulary. Callers branch on these values, so they are
// part of the API surface and never change shape.
const (
	ReasonGrantedByRole     = "granted_by_role"
	ReasonGrantedByOverride = "granted_by_override"
	ReasonDeniedByRole      = "denied_by_role"
	ReasonDeniedByOverride  = "denied_by_override"
	ReasonNoMatrixEntry     = "denied_no_matrix_entry"
	ReasonResolutionError   = "resolution_error"
)

// Decision is the immutable result of one access check.
type Decision struct {
	Allowed            bool      `json:"allowed"`
	Module             Module    `json:"module"`
	Action             Action    `json:"action"`
	UserID             string    `json:"user_id"`
	EffectiveRoleID    string    `json:"effective_role_id"`
	Reason             string    `json:"reason"`
	MatchedRestriction string    `json:"matched_restriction,omitempty"`
	Trace              []string  `json:"trace,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Resolution is the output of resolving a role through its inheritance
// chain: the OR-combined matrix plus the unions of special permissions and
// restrictions, child to root.
type Resolution struct {
	RoleID       string           `json:"role_id"`
	Matrix       PermissionMatrix `json:"matrix"`
	Special      []string         `json:"special"`
	Restrictions []string         `json:"restrictions"`
	Chain        []string         `json:"chain"` // role IDs, child first
}

// HasSpecial reports whether the resolved chain carries the capability token.
func (r *Resolution) HasSpecial(token string) bool {
	for _, s := range r.Special {
		if s == token {
			return true
		}
	}
	return false
}

// HasRestriction reports whether the resolved chain carries the tag.
func (r *Resolution) HasRestriction(tag string) bool {
	for _, s := range r.Restrictions {
		if s == tag {
			return true
		}
	}
	return false
}

// AuditSeverity classifies audit records for operator queries.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityCritical AuditSeverity = "critical"
)

// Audit record categories.
const (
	CategoryDecision   = "decision"
	CategoryResolution = "resolution"
	CategorySpecial    = "special"
)

// AuditRecord is one append-only entry in the audit trail. Records are never
// mutated or deleted through this API.
type AuditRecord struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	UserID             string        `json:"user_id"`
	RoleID             string        `json:"role_id"`
	Module             Module        `json:"module"`
	Action             Action        `json:"action"`
	Allowed            bool          `json:"allowed"`
	Reason             string        `json:"reason"`
	MatchedRestriction string        `json:"matched_restriction,omitempty"`
	Severity           AuditSeverity `json:"severity"`
	Category           string        `json:"category"`
	Detail             string        `json:"detail,omitempty"`
}

// AuditFilter narrows an audit query. Zero values mean "any".
type AuditFilter struct {
	UserID   string
	Module   Module
	Category string
	Severity AuditSeverity
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// RoleStore persists role definitions. Validation lives in the Catalog, not
// in stores; stores only load and save.
type RoleStore interface {
	SaveRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
}

// PrincipalStore persists user -> (role, overrides) assignments.
type PrincipalStore interface {
	SavePrincipal(ctx context.Context, p *Principal) error
	DeletePrincipal(ctx context.Context, userID string) error
	GetPrincipal(ctx context.Context, userID string) (*Principal, error)
	ListPrincipals(ctx context.Context) ([]*Principal, error)
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// AuditStore appends and queries decision records.
type AuditStore interface {
	LogDecision(ctx context.Context, rec *AuditRecord) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
