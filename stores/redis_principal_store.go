package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/campuskit/rbac"
)

// RedisPrincipalStore keeps principals as JSON values plus two indexes: a
// set of all user ids and a per-role membership set backing CountByRole.
//
// Keys: princ:{userID}, princ:all, princ:role:{roleID}.
type RedisPrincipalStore struct {
	client *redis.Client
}

func NewRedisPrincipalStore(client *redis.Client) *RedisPrincipalStore {
	return &RedisPrincipalStore{client: client}
}

func (s *RedisPrincipalStore) key(userID string) string { return "princ:" + userID }

func (s *RedisPrincipalStore) roleKey(roleID string) string { return "princ:role:" + roleID }

func (s *RedisPrincipalStore) SavePrincipal(ctx context.Context, p *rbac.Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	// Keep the role index in step with the previous assignment.
	if old, err := s.GetPrincipal(ctx, p.UserID); err == nil && old.RoleID != "" && old.RoleID != p.RoleID {
		if err := s.client.SRem(ctx, s.roleKey(old.RoleID), p.UserID).Err(); err != nil {
			return err
		}
	}
	if err := s.client.Set(ctx, s.key(p.UserID), data, 0).Err(); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, "princ:all", p.UserID).Err(); err != nil {
		return err
	}
	if p.RoleID != "" {
		return s.client.SAdd(ctx, s.roleKey(p.RoleID), p.UserID).Err()
	}
	return nil
}

func (s *RedisPrincipalStore) DeletePrincipal(ctx context.Context, userID string) error {
	if old, err := s.GetPrincipal(ctx, userID); err == nil && old.RoleID != "" {
		if err := s.client.SRem(ctx, s.roleKey(old.RoleID), userID).Err(); err != nil {
			return err
		}
	}
	if err := s.client.SRem(ctx, "princ:all", userID).Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *RedisPrincipalStore) GetPrincipal(ctx context.Context, userID string) (*rbac.Principal, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", rbac.ErrPrincipalNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	p := &rbac.Principal{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RedisPrincipalStore) ListPrincipals(ctx context.Context) ([]*rbac.Principal, error) {
	ids, err := s.client.SMembers(ctx, "princ:all").Result()
	if err != nil {
		return nil, err
	}
	out := make([]*rbac.Principal, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPrincipal(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisPrincipalStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	n, err := s.client.SCard(ctx, s.roleKey(roleID)).Result()
	return int(n), err
}
