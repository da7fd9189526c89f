package rbac

import "context"

// PermissionLevel is the derived "percentage" metric shown by role screens:
// the fraction of granted cells over the whole matrix. It is a read-only
// projection over a resolution and never feeds back into any decision.
func PermissionLevel(matrix PermissionMatrix) float64 {
	if len(matrix) == 0 {
		return 0
	}
	granted := 0
	for _, set := range matrix {
		for _, a := range Actions {
			if set.Get(a) {
				granted++
			}
		}
	}
	return float64(granted) / float64(len(matrix)*len(Actions))
}

// RoleSummary is the per-role projection consumed by role-management
// screens. All fields are derived; none are inputs to decisions.
type RoleSummary struct {
	RoleID           string     `json:"role_id"`
	Name             string     `json:"name"`
	Status           RoleStatus `json:"status"`
	PermissionLevel  float64    `json:"permission_level"`
	ChainDepth       int        `json:"chain_depth"`
	SpecialCount     int        `json:"special_count"`
	RestrictionCount int        `json:"restriction_count"`
	UserCount        int        `json:"user_count"`
}

// Summarize resolves the role and derives its summary.
func Summarize(ctx context.Context, catalog *Catalog, resolver *Resolver, roleID string) (*RoleSummary, error) {
	role, err := catalog.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	res, err := resolver.Resolve(ctx, roleID)
	if err != nil {
		return nil, err
	}
	users, err := catalog.UserCount(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return &RoleSummary{
		RoleID:           roleID,
		Name:             role.Name,
		Status:           role.Status,
		PermissionLevel:  PermissionLevel(res.Matrix),
		ChainDepth:       len(res.Chain),
		SpecialCount:     len(res.Special),
		RestrictionCount: len(res.Restrictions),
		UserCount:        users,
	}, nil
}
