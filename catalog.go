package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/campuskit/rbac/logger"
)

// DefaultMaxInheritanceDepth bounds parent-pointer walks.
const DefaultMaxInheritanceDepth = 8

// UsageCounter reports how many principals currently reference a role. The
// Directory's principal store satisfies this.
type UsageCounter interface {
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// Catalog owns role definitions: every mutation is validated (matrix
// completeness, parent existence, cycle and depth bounds) before it is
// stored, and resolution caches for the role and its descendants are
// invalidated on success.
type Catalog struct {
	store    RoleStore
	modules  []Module
	maxDepth int
	usage    UsageCounter
	log      logger.Logger

	mu           sync.RWMutex
	invalidators []func(roleIDs ...string)
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithModules replaces the default module set.
func WithModules(modules []Module) CatalogOption {
	return func(c *Catalog) {
		if len(modules) > 0 {
			c.modules = append([]Module(nil), modules...)
		}
	}
}

// WithMaxInheritanceDepth bounds the parent chain length.
func WithMaxInheritanceDepth(depth int) CatalogOption {
	return func(c *Catalog) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithUsageCounter wires the deletion guard to a principal reference count.
func WithUsageCounter(u UsageCounter) CatalogOption {
	return func(c *Catalog) { c.usage = u }
}

// WithCatalogLogger installs a structured logger.
func WithCatalogLogger(l logger.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCatalog builds a Catalog over the given store.
func NewCatalog(store RoleStore, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		store:    store,
		modules:  append([]Module(nil), DefaultModules...),
		maxDepth: DefaultMaxInheritanceDepth,
		log:      logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Modules returns the configured module set.
func (c *Catalog) Modules() []Module {
	return append([]Module(nil), c.modules...)
}

// MaxDepth returns the configured inheritance bound.
func (c *Catalog) MaxDepth() int { return c.maxDepth }

// OnInvalidate registers a callback fired with the ids of every role whose
// cached resolution became stale. The Resolver registers itself here.
func (c *Catalog) OnInvalidate(fn func(roleIDs ...string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidators = append(c.invalidators, fn)
}

// UpsertRole validates and stores a role. Validation order: matrix shape,
// parent existence, cycle/depth. Fails before any state changes.
func (c *Catalog) UpsertRole(ctx context.Context, role *Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidMatrix)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if role.Status == "" {
		role.Status = RoleActive
	}
	if err := c.validateMatrix(role); err != nil {
		return err
	}
	if err := c.validateParentChain(ctx, role); err != nil {
		return err
	}
	if err := c.store.SaveRole(ctx, role); err != nil {
		return err
	}
	stale, err := c.withDescendants(ctx, role.ID)
	if err != nil {
		// The role is stored; a failed descendant scan only widens the
		// invalidation to the single id.
		stale = []string{role.ID}
	}
	c.fireInvalidate(stale...)
	c.log.Info("role upserted", "role", role.ID, "parent", role.ParentID, "invalidated", len(stale))
	return nil
}

// DeleteRole removes a role once no principal references it. Children that
// pointed at the deleted role are left dangling on purpose: their next
// resolution fails with ErrDanglingParent until repaired explicitly.
func (c *Catalog) DeleteRole(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.GetRole(ctx, id); err != nil {
		return err
	}
	if c.usage != nil {
		n, err := c.usage.CountByRole(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s referenced by %d principals", ErrRoleInUse, id, n)
		}
	}
	stale, serr := c.withDescendants(ctx, id)
	if serr != nil {
		stale = []string{id}
	}
	if err := c.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	c.fireInvalidate(stale...)
	c.log.Info("role deleted", "role", id)
	return nil
}

// GetRole loads a role by id.
func (c *Catalog) GetRole(ctx context.Context, id string) (*Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.GetRole(ctx, id)
}

// ListRoles returns every stored role.
func (c *Catalog) ListRoles(ctx context.Context) ([]*Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListRoles(ctx)
}

// ListRolesByStatus filters roles by status.
func (c *Catalog) ListRolesByStatus(ctx context.Context, status RoleStatus) ([]*Role, error) {
	roles, err := c.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(roles))
	for _, r := range roles {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// UserCount returns the derived reference count used by the deletion guard.
func (c *Catalog) UserCount(ctx context.Context, roleID string) (int, error) {
	if c.usage == nil {
		return 0, nil
	}
	return c.usage.CountByRole(ctx, roleID)
}

func (c *Catalog) validateMatrix(role *Role) error {
	if role.Matrix == nil {
		return fmt.Errorf("%w: role %s has no matrix", ErrInvalidMatrix, role.ID)
	}
	for _, mod := range c.modules {
		if _, ok := role.Matrix[mod]; !ok {
			return fmt.Errorf("%w: role %s missing module %q", ErrInvalidMatrix, role.ID, mod)
		}
	}
	if len(role.Matrix) != len(c.modules) {
		for mod := range role.Matrix {
			if !c.knownModule(mod) {
				return fmt.Errorf("%w: role %s has unknown module %q", ErrInvalidMatrix, role.ID, mod)
			}
		}
	}
	return nil
}

// validateParentChain walks parent pointers from the candidate role using
// the candidate's own parent_id first, then stored roles, rejecting cycles
// and chains deeper than maxDepth.
func (c *Catalog) validateParentChain(ctx context.Context, role *Role) error {
	if role.ParentID == "" {
		return nil
	}
	// depth counts ancestors; a chain holds at most maxDepth roles total,
	// matching the resolver's walk.
	visited := map[string]bool{role.ID: true}
	cur := role.ParentID
	for depth := 1; cur != ""; depth++ {
		if depth >= c.maxDepth {
			return fmt.Errorf("%w: chain from %s exceeds depth %d", ErrInheritanceCycle, role.ID, c.maxDepth)
		}
		if visited[cur] {
			return fmt.Errorf("%w: role %s revisits %s", ErrInheritanceCycle, role.ID, cur)
		}
		visited[cur] = true
		parent, err := c.store.GetRole(ctx, cur)
		if err != nil {
			return fmt.Errorf("%w: role %s parent %s", ErrUnknownParent, role.ID, cur)
		}
		// The immediate parent must be active to accept a new edge. Ancestors
		// deeper in the chain may be inactive: status never gates resolution
		// of chains that already exist.
		if depth == 1 && parent.Status == RoleInactive {
			return fmt.Errorf("%w: role %s parent %s is inactive", ErrUnknownParent, role.ID, cur)
		}
		cur = parent.ParentID
	}
	return nil
}

// withDescendants returns id plus every role whose inheritance chain passes
// through it.
func (c *Catalog) withDescendants(ctx context.Context, id string) ([]string, error) {
	roles, err := c.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string, len(roles))
	for _, r := range roles {
		if r.ParentID != "" {
			children[r.ParentID] = append(children[r.ParentID], r.ID)
		}
	}
	out := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, child := range children[out[i]] {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (c *Catalog) fireInvalidate(roleIDs ...string) {
	for _, fn := range c.invalidators {
		fn(roleIDs...)
	}
}

func (c *Catalog) knownModule(m Module) bool {
	for _, mod := range c.modules {
		if mod == m {
			return true
		}
	}
	return false
}
