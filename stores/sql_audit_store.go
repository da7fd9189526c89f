package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/campuskit/rbac"
)

// SQLAuditStore appends decision records to the audit_log table. Records
// are never updated or deleted through this API.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, rec *rbac.AuditRecord) error {
	q := `INSERT INTO audit_log(id, timestamp, user_id, role_id, module, action, allowed, reason, matched_restriction, severity, category, detail)
VALUES(:id, :timestamp, :user_id, :role_id, :module, :action, :allowed, :reason, :matched_restriction, :severity, :category, :detail)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                  rec.ID,
		"timestamp":           rec.Timestamp,
		"user_id":             rec.UserID,
		"role_id":             rec.RoleID,
		"module":              string(rec.Module),
		"action":              string(rec.Action),
		"allowed":             boolToInt(rec.Allowed),
		"reason":              rec.Reason,
		"matched_restriction": rec.MatchedRestriction,
		"severity":            string(rec.Severity),
		"category":            rec.Category,
		"detail":              rec.Detail,
	})
	return err
}

// GetAccessLog returns matching records newest first. Unbounded queries are
// capped at 100 rows.
func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter rbac.AuditFilter) ([]*rbac.AuditRecord, error) {
	q := `SELECT id, timestamp, user_id, role_id, module, action, allowed, reason, matched_restriction, severity, category, detail FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Module != "" {
		q += " AND module = :module"
		params["module"] = string(filter.Module)
	}
	if filter.Category != "" {
		q += " AND category = :category"
		params["category"] = filter.Category
	}
	if filter.Severity != "" {
		q += " AND severity = :severity"
		params["severity"] = string(filter.Severity)
	}
	if !filter.Since.IsZero() {
		q += " AND timestamp >= :since"
		params["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		q += " AND timestamp <= :until"
		params["until"] = filter.Until
	}
	q += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*rbac.AuditRecord, 0)
	for r.Next() {
		var id, userID, roleID, module, action, reason, matched, severity, category, detail string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &userID, &roleID, &module, &action, &allowedInt, &reason, &matched, &severity, &category, &detail); err != nil {
			return nil, err
		}
		out = append(out, &rbac.AuditRecord{
			ID:                 id,
			Timestamp:          scanTime(timestampRaw),
			UserID:             userID,
			RoleID:             roleID,
			Module:             rbac.Module(module),
			Action:             rbac.Action(action),
			Allowed:            allowedInt != 0,
			Reason:             reason,
			MatchedRestriction: matched,
			Severity:           rbac.AuditSeverity(severity),
			Category:           category,
			Detail:             detail,
		})
	}
	return out, nil
}
