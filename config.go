package rbac

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/campuskit/rbac/logger"
)

// Config is the declarative seed for a process: module set, inheritance
// bound, roles, principals, restriction scoping and engine tuning. It is
// loaded once at start; the module/action enumerations are immutable for the
// life of the process.
type Config struct {
	Version             int                 `json:"version" yaml:"version"`
	Modules             []Module            `json:"modules,omitempty" yaml:"modules,omitempty"`
	MaxInheritanceDepth int                 `json:"max_inheritance_depth,omitempty" yaml:"max_inheritance_depth,omitempty"`
	Roles               []*Role             `json:"roles" yaml:"roles"`
	Principals          []*Principal        `json:"principals,omitempty" yaml:"principals,omitempty"`
	Restrictions        map[string][]string `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
	Engine              EngineSettings      `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// EngineSettings tunes the runtime.
type EngineSettings struct {
	AuditBuffer          int   `json:"audit_buffer,omitempty" yaml:"audit_buffer,omitempty"`
	RistrettoNumCounters int64 `json:"ristretto_num_counters,omitempty" yaml:"ristretto_num_counters,omitempty"`
	RistrettoMaxCost     int64 `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBufferItems int64 `json:"ristretto_buffer_items,omitempty" yaml:"ristretto_buffer_items,omitempty"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports the config.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports the config.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// ModuleSet returns the configured modules, defaulting when absent.
func (c *Config) ModuleSet() []Module {
	if len(c.Modules) > 0 {
		return c.Modules
	}
	return DefaultModules
}

// Validate applies the whole config against throwaway in-memory stores so
// every catalog invariant (matrix shape, parents, cycles, depth, role
// status) is checked without touching real state.
func (c *Config) Validate(ctx context.Context) error {
	catalog, directory := c.scratch()
	if err := c.apply(ctx, catalog, directory); err != nil {
		return err
	}
	resolver, err := NewResolver(catalog)
	if err != nil {
		return err
	}
	for _, r := range c.Roles {
		if _, err := resolver.Resolve(ctx, r.ID); err != nil {
			return fmt.Errorf("role %s: %w", r.ID, err)
		}
	}
	return nil
}

// Apply seeds a catalog and directory. Roles are inserted parents-first so
// parent existence validation holds regardless of file order.
func (c *Config) Apply(ctx context.Context, catalog *Catalog, directory *Directory) error {
	return c.apply(ctx, catalog, directory)
}

func (c *Config) apply(ctx context.Context, catalog *Catalog, directory *Directory) error {
	for _, r := range sortParentsFirst(c.Roles) {
		if err := catalog.UpsertRole(ctx, r.Clone()); err != nil {
			return fmt.Errorf("role %s: %w", r.ID, err)
		}
	}
	for _, p := range c.Principals {
		if err := directory.Provision(ctx, p.Clone()); err != nil {
			return fmt.Errorf("principal %s: %w", p.UserID, err)
		}
	}
	return nil
}

func (c *Config) scratch() (*Catalog, *Directory) {
	opts := []CatalogOption{WithModules(c.ModuleSet())}
	if c.MaxInheritanceDepth > 0 {
		opts = append(opts, WithMaxInheritanceDepth(c.MaxInheritanceDepth))
	}
	ps := NewMemoryPrincipalStore()
	opts = append(opts, WithUsageCounter(ps))
	catalog := NewCatalog(NewMemoryRoleStore(), opts...)
	directory := NewDirectory(ps, catalog, nil)
	return catalog, directory
}

// sortParentsFirst orders roles so every parent precedes its children.
// Unresolvable parents are left in place for the catalog to reject with a
// precise error.
func sortParentsFirst(roles []*Role) []*Role {
	byID := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	out := make([]*Role, 0, len(roles))
	placed := make(map[string]bool, len(roles))
	var place func(r *Role, guard map[string]bool)
	place = func(r *Role, guard map[string]bool) {
		if placed[r.ID] || guard[r.ID] {
			return
		}
		guard[r.ID] = true
		if parent, ok := byID[r.ParentID]; ok {
			place(parent, guard)
		}
		placed[r.ID] = true
		out = append(out, r)
	}
	for _, r := range roles {
		place(r, make(map[string]bool))
	}
	return out
}

// ConfigStats summarises a config for the rbac-config CLI.
type ConfigStats struct {
	Modules      int     `json:"modules"`
	Roles        int     `json:"roles"`
	ActiveRoles  int     `json:"active_roles"`
	Principals   int     `json:"principals"`
	Restrictions int     `json:"restrictions"`
	MaxDepth     int     `json:"max_depth"`
	AvgLevel     float64 `json:"avg_permission_level"`
}

// Stats derives summary counts without validating.
func (c *Config) Stats() ConfigStats {
	s := ConfigStats{
		Modules:      len(c.ModuleSet()),
		Roles:        len(c.Roles),
		Principals:   len(c.Principals),
		Restrictions: len(c.Restrictions),
		MaxDepth:     c.MaxInheritanceDepth,
	}
	if s.MaxDepth == 0 {
		s.MaxDepth = DefaultMaxInheritanceDepth
	}
	var total float64
	for _, r := range c.Roles {
		if r.Status == RoleActive || r.Status == "" {
			s.ActiveRoles++
		}
		total += PermissionLevel(r.Matrix)
	}
	if len(c.Roles) > 0 {
		s.AvgLevel = total / float64(len(c.Roles))
	}
	return s
}

// NewEngineFromConfig builds catalog, resolver, directory and engine over
// the supplied stores and seeds them from the config.
func NewEngineFromConfig(ctx context.Context, cfg *Config, roles RoleStore, principals PrincipalStore, audit AuditStore, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	copts := []CatalogOption{
		WithModules(cfg.ModuleSet()),
		WithUsageCounter(principals),
		WithCatalogLogger(log),
	}
	if cfg.MaxInheritanceDepth > 0 {
		copts = append(copts, WithMaxInheritanceDepth(cfg.MaxInheritanceDepth))
	}
	catalog := NewCatalog(roles, copts...)

	ropts := []ResolverOption{WithResolverLogger(log)}
	if cfg.Engine.RistrettoNumCounters > 0 {
		ropts = append(ropts, WithResolverCacheSize(
			cfg.Engine.RistrettoNumCounters,
			cfg.Engine.RistrettoMaxCost,
			cfg.Engine.RistrettoBufferItems,
		))
	}
	resolver, err := NewResolver(catalog, ropts...)
	if err != nil {
		return nil, err
	}

	directory := NewDirectory(principals, catalog, log)
	if err := cfg.Apply(ctx, catalog, directory); err != nil {
		return nil, err
	}

	eopts := []EngineOption{WithLogger(log)}
	if cfg.Engine.AuditBuffer > 0 {
		eopts = append(eopts, WithAuditBuffer(cfg.Engine.AuditBuffer))
	}
	if len(cfg.Restrictions) > 0 {
		eopts = append(eopts, WithRestrictionMapper(ScopeMap(cfg.Restrictions)))
	}
	return NewEngine(catalog, resolver, directory, audit, eopts...)
}
