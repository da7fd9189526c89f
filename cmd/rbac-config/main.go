package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/campuskit/rbac"
	"github.com/campuskit/rbac/logger"
	"github.com/campuskit/rbac/stores"
)

// ProcessEnv selects the persistence backends at process start. Backends
// are immutable for the life of the process.
type ProcessEnv struct {
	AuditBackend     string `envconfig:"RBAC_AUDIT_BACKEND" default:"memory"`     // memory | sqlite
	PrincipalBackend string `envconfig:"RBAC_PRINCIPAL_BACKEND" default:"memory"` // memory | sqlite | redis
	SQLitePath       string `envconfig:"RBAC_SQLITE_PATH" default:"rbac.db"`
	RedisAddr        string `envconfig:"RBAC_REDIS_ADDR" default:"127.0.0.1:6379"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rbac-config - Configuration tool for the access-control engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rbac-config convert <input> <output>  - Convert between formats")
	fmt.Println("  rbac-config validate <file>           - Validate roles, parents and principals")
	fmt.Println("  rbac-config stats <file>              - Show configuration statistics")
	fmt.Println("  rbac-config apply <file>              - Seed the configured backends")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
	fmt.Println("Backends via RBAC_AUDIT_BACKEND, RBAC_PRINCIPAL_BACKEND, RBAC_SQLITE_PATH, RBAC_REDIS_ADDR")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: rbac-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	for _, r := range cfg.Roles {
		if r.ID == "" {
			fmt.Println("Role missing ID")
			os.Exit(1)
		}
	}
	if err := cfg.Validate(context.Background()); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Modules: %d\n", len(cfg.ModuleSet()))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Principals: %d\n", len(cfg.Principals))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	s := cfg.Stats()
	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat, err := os.Stat(os.Args[2]); err == nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Printf("Modules: %d\n", s.Modules)
	fmt.Printf("Roles: %d (%d active)\n", s.Roles, s.ActiveRoles)
	fmt.Printf("Principals: %d\n", s.Principals)
	fmt.Printf("Restriction tags: %d\n", s.Restrictions)
	fmt.Printf("Max inheritance depth: %d\n", s.MaxDepth)
	fmt.Printf("Avg permission level: %.1f%%\n", s.AvgLevel*100)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: rbac-config apply <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	var env ProcessEnv
	if err := envconfig.Process("", &env); err != nil {
		fmt.Printf("Error reading environment: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	roleStore, principalStore, auditStore, err := buildStores(env)
	if err != nil {
		fmt.Printf("Error building stores: %v\n", err)
		os.Exit(1)
	}

	engine, err := rbac.NewEngineFromConfig(ctx, cfg, roleStore, principalStore, auditStore, logger.NewPhusluLogger())
	if err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("Applied %d roles and %d principals\n", len(cfg.Roles), len(cfg.Principals))
	for _, r := range cfg.Roles {
		summary, err := rbac.Summarize(ctx, engine.Catalog(), engine.Resolver(), r.ID)
		if err != nil {
			fmt.Printf("  %s: %v\n", r.ID, err)
			continue
		}
		fmt.Printf("  %-20s level=%.0f%% depth=%d users=%d\n", summary.RoleID, summary.PermissionLevel*100, summary.ChainDepth, summary.UserCount)
	}
}

func buildStores(env ProcessEnv) (rbac.RoleStore, rbac.PrincipalStore, rbac.AuditStore, error) {
	var db *squealx.DB
	needSQL := env.AuditBackend == "sqlite" || env.PrincipalBackend == "sqlite"
	if needSQL {
		sqlDB, err := sql.Open("sqlite", env.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db = squealx.NewDb(sqlDB, "sqlite", "rbac")
		if err := stores.Migrate(db); err != nil {
			return nil, nil, nil, err
		}
	}

	var roleStore rbac.RoleStore = rbac.NewMemoryRoleStore()
	if needSQL {
		roleStore = stores.NewSQLRoleStore(db)
	}

	var principalStore rbac.PrincipalStore
	switch env.PrincipalBackend {
	case "sqlite":
		principalStore = stores.NewSQLPrincipalStore(db)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		principalStore = stores.NewRedisPrincipalStore(client)
	default:
		principalStore = rbac.NewMemoryPrincipalStore()
	}

	var auditStore rbac.AuditStore = rbac.NewMemoryAuditStore()
	if env.AuditBackend == "sqlite" {
		auditStore = stores.NewSQLAuditStore(db)
	}
	return roleStore, principalStore, auditStore, nil
}

func loadConfig(filename string) (*rbac.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	loader := rbac.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
}

func saveConfig(cfg *rbac.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
