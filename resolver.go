package rbac

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/campuskit/rbac/logger"
)

// Resolver computes effective permissions by walking a role's inheritance
// chain child-to-root and combining top-down: each child ORs its matrix onto
// its ancestors' (a child only adds, never retracts), special permissions and
// restrictions are unions across the chain. Results are cached per role id
// and invalidated whenever the Catalog mutates the role or an ancestor.
type Resolver struct {
	catalog *Catalog
	cache   *ristretto.Cache
	log     logger.Logger
	gen     int64
	hits    int64
	misses  int64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	numCounters int64
	maxCost     int64
	bufferItems int64
	log         logger.Logger
}

// WithResolverCacheSize tunes the ristretto cache.
func WithResolverCacheSize(numCounters, maxCost, bufferItems int64) ResolverOption {
	return func(c *resolverConfig) {
		if numCounters > 0 {
			c.numCounters = numCounters
		}
		if maxCost > 0 {
			c.maxCost = maxCost
		}
		if bufferItems > 0 {
			c.bufferItems = bufferItems
		}
	}
}

// WithResolverLogger installs a structured logger.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(c *resolverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewResolver builds a Resolver over the catalog and registers itself for
// invalidation callbacks.
func NewResolver(catalog *Catalog, opts ...ResolverOption) (*Resolver, error) {
	cfg := &resolverConfig{
		numCounters: 10_000,
		maxCost:     1 << 20,
		bufferItems: 64,
		log:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.numCounters,
		MaxCost:     cfg.maxCost,
		BufferItems: cfg.bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	r := &Resolver{catalog: catalog, cache: cache, log: cfg.log}
	catalog.OnInvalidate(r.Invalidate)
	return r, nil
}

// Resolve returns the effective matrix, special permissions and restrictions
// for the role. Cycles and dangling parents are re-detected here even though
// the catalog validates on write; the resolver never trusts stale state.
func (r *Resolver) Resolve(ctx context.Context, roleID string) (*Resolution, error) {
	if cached, ok := r.cache.Get(roleID); ok {
		atomic.AddInt64(&r.hits, 1)
		return cached.(*Resolution), nil
	}
	atomic.AddInt64(&r.misses, 1)

	// Snapshot the invalidation generation before reading any role so a walk
	// racing a mutation can be detected below.
	gen := atomic.LoadInt64(&r.gen)

	chain, err := r.walkChain(ctx, roleID)
	if err != nil {
		return nil, err
	}

	matrix := EmptyMatrix(r.catalog.Modules())
	var special, restrictions []string
	ids := make([]string, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		role := chain[i]
		for mod, set := range role.Matrix {
			matrix[mod] = matrix[mod].Or(set)
		}
		special = append(special, role.Special...)
		restrictions = append(restrictions, role.Restrictions...)
	}
	for i, role := range chain {
		ids[i] = role.ID
	}

	res := &Resolution{
		RoleID:       roleID,
		Matrix:       matrix,
		Special:      sortedUnique(special),
		Restrictions: sortedUnique(restrictions),
		Chain:        ids,
	}
	// Cache only if no invalidation ran since the walk started; a resolution
	// built from pre-mutation roles must never outlive the mutation's
	// Invalidate. Skipping the Set just costs one recomputation.
	if atomic.LoadInt64(&r.gen) == gen {
		r.cache.Set(roleID, res, 1)
		r.cache.Wait()
	}
	return res, nil
}

// walkChain collects the role and its ancestors, child first.
func (r *Resolver) walkChain(ctx context.Context, roleID string) ([]*Role, error) {
	var chain []*Role
	visited := make(map[string]bool)
	cur := roleID
	for cur != "" {
		if visited[cur] {
			return nil, fmt.Errorf("%w: %s revisits %s", ErrInheritanceCycle, roleID, cur)
		}
		if len(chain) >= r.catalog.MaxDepth() {
			return nil, fmt.Errorf("%w: chain from %s exceeds depth %d", ErrInheritanceCycle, roleID, r.catalog.MaxDepth())
		}
		visited[cur] = true
		role, err := r.catalog.GetRole(ctx, cur)
		if err != nil {
			if cur == roleID {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s references %s: %v", ErrDanglingParent, roleID, cur, err)
		}
		chain = append(chain, role)
		cur = role.ParentID
	}
	return chain, nil
}

// Invalidate drops cached resolutions for the given role ids.
func (r *Resolver) Invalidate(roleIDs ...string) {
	atomic.AddInt64(&r.gen, 1)
	// Set is buffered; flush pending writes first so a stale entry cannot
	// land after its Del.
	r.cache.Wait()
	for _, id := range roleIDs {
		r.cache.Del(id)
	}
	r.log.Debug("resolution cache invalidated", "roles", len(roleIDs))
}

// CacheStats reports hit/miss counters for operators.
func (r *Resolver) CacheStats() (hits, misses int64) {
	return atomic.LoadInt64(&r.hits), atomic.LoadInt64(&r.misses)
}
