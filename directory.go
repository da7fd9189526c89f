package rbac

import (
	"context"
	"fmt"

	"github.com/campuskit/rbac/logger"
)

// Directory is the thin user -> (role, overrides) mapping layer. No
// inheritance logic lives here; it only gates assignment on role status and
// feeds the catalog's deletion guard with reference counts.
type Directory struct {
	store   PrincipalStore
	catalog *Catalog
	log     logger.Logger
}

// NewDirectory builds a Directory over the given store. The catalog is
// consulted on AssignRole only.
func NewDirectory(store PrincipalStore, catalog *Catalog, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Directory{store: store, catalog: catalog, log: log}
}

// GetPrincipal loads a principal by user id.
func (d *Directory) GetPrincipal(ctx context.Context, userID string) (*Principal, error) {
	return d.store.GetPrincipal(ctx, userID)
}

// ListPrincipals returns every provisioned principal.
func (d *Directory) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	return d.store.ListPrincipals(ctx)
}

// AssignRole points the user at a role. Only active roles can be freshly
// assigned; existing assignments to roles that later went inactive keep
// resolving (status gates assignment, not inheritance).
func (d *Directory) AssignRole(ctx context.Context, userID, roleID string) error {
	role, err := d.catalog.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Status != RoleActive {
		return fmt.Errorf("%w: %s", ErrRoleInactive, roleID)
	}
	p, err := d.store.GetPrincipal(ctx, userID)
	if err != nil {
		p = &Principal{UserID: userID}
	}
	p.RoleID = roleID
	if err := d.store.SavePrincipal(ctx, p); err != nil {
		return err
	}
	d.log.Info("role assigned", "user", userID, "role", roleID)
	return nil
}

// Provision stores a complete principal (assignment plus overrides) in one
// step, typically from configuration. The same active-role gate as
// AssignRole applies.
func (d *Directory) Provision(ctx context.Context, p *Principal) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrPrincipalNotFound)
	}
	if p.RoleID != "" {
		role, err := d.catalog.GetRole(ctx, p.RoleID)
		if err != nil {
			return err
		}
		if role.Status != RoleActive {
			return fmt.Errorf("%w: %s", ErrRoleInactive, p.RoleID)
		}
	}
	return d.store.SavePrincipal(ctx, p)
}

// SetOverride records an explicit per-cell exception for the user. The value
// replaces the resolved role cell at decision time.
func (d *Directory) SetOverride(ctx context.Context, userID string, module Module, action Action, value bool) error {
	if !ValidAction(action) {
		return fmt.Errorf("unknown action %q", action)
	}
	p, err := d.store.GetPrincipal(ctx, userID)
	if err != nil {
		return err
	}
	if p.Overrides == nil {
		p.Overrides = make(map[Module]map[Action]bool)
	}
	if p.Overrides[module] == nil {
		p.Overrides[module] = make(map[Action]bool)
	}
	p.Overrides[module][action] = value
	if err := d.store.SavePrincipal(ctx, p); err != nil {
		return err
	}
	d.log.Info("override set", "user", userID, "module", string(module), "action", string(action), "value", value)
	return nil
}

// ClearOverride removes an explicit exception, deferring back to the role.
func (d *Directory) ClearOverride(ctx context.Context, userID string, module Module, action Action) error {
	p, err := d.store.GetPrincipal(ctx, userID)
	if err != nil {
		return err
	}
	if cells, ok := p.Overrides[module]; ok {
		delete(cells, action)
		if len(cells) == 0 {
			delete(p.Overrides, module)
		}
	}
	return d.store.SavePrincipal(ctx, p)
}

// RemovePrincipal deletes the directory entry for a deprovisioned user.
func (d *Directory) RemovePrincipal(ctx context.Context, userID string) error {
	return d.store.DeletePrincipal(ctx, userID)
}

// CountByRole reports how many principals reference the role. Satisfies the
// catalog's UsageCounter.
func (d *Directory) CountByRole(ctx context.Context, roleID string) (int, error) {
	return d.store.CountByRole(ctx, roleID)
}
