package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// In-memory stores. These are the default backends for the
// admin-dashboard deployment shape and the reference implementations for the
// store contracts; SQL and Redis variants live in the stores package.

// MemoryRoleStore keeps roles in a map. Reads return deep copies so callers
// can never mutate catalog state behind validation's back.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*Role)}
}

func (s *MemoryRoleStore) SaveRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := r.Clone()
	now := time.Now()
	if old, ok := s.roles[r.ID]; ok {
		dup.CreatedAt = old.CreatedAt
	} else {
		dup.CreatedAt = now
	}
	dup.UpdatedAt = now
	s.roles[r.ID] = dup
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	delete(s.roles, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryPrincipalStore keeps principals in a map.
type MemoryPrincipalStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
}

func NewMemoryPrincipalStore() *MemoryPrincipalStore {
	return &MemoryPrincipalStore{principals: make(map[string]*Principal)}
}

func (s *MemoryPrincipalStore) SavePrincipal(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.UserID] = p.Clone()
	return nil
}

func (s *MemoryPrincipalStore) DeletePrincipal(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.principals, userID)
	return nil
}

func (s *MemoryPrincipalStore) GetPrincipal(ctx context.Context, userID string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, userID)
	}
	return p.Clone(), nil
}

func (s *MemoryPrincipalStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryPrincipalStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.principals {
		if p.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

// MemoryAuditStore keeps records in an append-only slice.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*AuditRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{records: make([]*AuditRecord, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *rec
	s.records = append(s.records, &dup)
	return nil
}

// GetAccessLog filters and returns records newest first.
func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, 0)
	for _, rec := range s.records {
		if !auditMatches(rec, filter) {
			continue
		}
		dup := *rec
		out = append(out, &dup)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func auditMatches(rec *AuditRecord, filter AuditFilter) bool {
	if filter.UserID != "" && rec.UserID != filter.UserID {
		return false
	}
	if filter.Module != "" && rec.Module != filter.Module {
		return false
	}
	if filter.Category != "" && rec.Category != filter.Category {
		return false
	}
	if filter.Severity != "" && rec.Severity != filter.Severity {
		return false
	}
	if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && rec.Timestamp.After(filter.Until) {
		return false
	}
	return true
}
