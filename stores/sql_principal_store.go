package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/campuskit/rbac"
)

// SQLPrincipalStore persists user -> (role, overrides) rows. Overrides are
// a JSON column keyed module -> action -> bool.
type SQLPrincipalStore struct {
	db *squealx.DB
}

func NewSQLPrincipalStore(db *squealx.DB) *SQLPrincipalStore {
	return &SQLPrincipalStore{db: db}
}

func (s *SQLPrincipalStore) SavePrincipal(ctx context.Context, p *rbac.Principal) error {
	overrides, _ := json.Marshal(p.Overrides)
	q := `INSERT INTO principals(user_id, role_id, overrides_json) VALUES(:user_id, :role_id, :overrides_json)
ON CONFLICT(user_id) DO UPDATE SET role_id=:role_id, overrides_json=:overrides_json`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":        p.UserID,
		"role_id":        p.RoleID,
		"overrides_json": string(overrides),
	})
	return err
}

func (s *SQLPrincipalStore) DeletePrincipal(ctx context.Context, userID string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM principals WHERE user_id = :user_id`, map[string]any{"user_id": userID})
	return err
}

func (s *SQLPrincipalStore) GetPrincipal(ctx context.Context, userID string) (*rbac.Principal, error) {
	q := `SELECT user_id, role_id, overrides_json FROM principals WHERE user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("%w: %s", rbac.ErrPrincipalNotFound, userID)
	}
	return scanPrincipal(r.Scan)
}

func (s *SQLPrincipalStore) ListPrincipals(ctx context.Context) ([]*rbac.Principal, error) {
	q := `SELECT user_id, role_id, overrides_json FROM principals ORDER BY user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.Principal, 0)
	for r.Next() {
		p, err := scanPrincipal(r.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLPrincipalStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	q := `SELECT COUNT(*) FROM principals WHERE role_id = :role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n := 0
	if r.Next() {
		if err := r.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func scanPrincipal(scan func(dest ...any) error) (*rbac.Principal, error) {
	var userID, roleID, overridesJSON string
	if err := scan(&userID, &roleID, &overridesJSON); err != nil {
		return nil, err
	}
	p := &rbac.Principal{UserID: userID, RoleID: roleID}
	if overridesJSON != "" && overridesJSON != "null" {
		if err := json.Unmarshal([]byte(overridesJSON), &p.Overrides); err != nil {
			return nil, fmt.Errorf("principal %s overrides: %w", userID, err)
		}
	}
	return p, nil
}
