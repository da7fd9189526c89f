package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/campuskit/rbac"
)

// SQLRoleStore persists roles in SQL (squealx). Matrix, special permissions
// and restrictions are stored as JSON columns.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) SaveRole(ctx context.Context, r *rbac.Role) error {
	matrix, _ := json.Marshal(r.Matrix)
	special, _ := json.Marshal(r.Special)
	restrictions, _ := json.Marshal(r.Restrictions)
	q := `INSERT INTO roles(id, name, type, status, parent_id, matrix_json, special_json, restrictions_json, created_at, updated_at)
VALUES(:id, :name, :type, :status, :parent_id, :matrix_json, :special_json, :restrictions_json, :now, :now)
ON CONFLICT(id) DO UPDATE SET name=:name, type=:type, status=:status, parent_id=:parent_id, matrix_json=:matrix_json, special_json=:special_json, restrictions_json=:restrictions_json, updated_at=:now`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                r.ID,
		"name":              r.Name,
		"type":              r.Type,
		"status":            string(r.Status),
		"parent_id":         r.ParentID,
		"matrix_json":       string(matrix),
		"special_json":      string(special),
		"restrictions_json": string(restrictions),
		"now":               time.Now(),
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.GetRole(ctx, id); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	q := `SELECT id, name, type, status, parent_id, matrix_json, special_json, restrictions_json, created_at, updated_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, id)
	}
	var idv, name, typ, status, parentID, matrixJSON, specialJSON, restrictionsJSON string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&idv, &name, &typ, &status, &parentID, &matrixJSON, &specialJSON, &restrictionsJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	role := &rbac.Role{
		ID:        idv,
		Name:      name,
		Type:      typ,
		Status:    rbac.RoleStatus(status),
		ParentID:  parentID,
		CreatedAt: scanTime(createdRaw),
		UpdatedAt: scanTime(updatedRaw),
	}
	if err := json.Unmarshal([]byte(matrixJSON), &role.Matrix); err != nil {
		return nil, fmt.Errorf("role %s matrix: %w", idv, err)
	}
	_ = json.Unmarshal([]byte(specialJSON), &role.Special)
	_ = json.Unmarshal([]byte(restrictionsJSON), &role.Restrictions)
	return role, nil
}

func (s *SQLRoleStore) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	r, err := s.db.NamedQueryContext(ctx, `SELECT id FROM roles ORDER BY id`, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.Role, 0)
	for r.Next() {
		var id string
		_ = r.Scan(&id)
		if role, err := s.GetRole(ctx, id); err == nil {
			out = append(out, role)
		}
	}
	return out, nil
}
