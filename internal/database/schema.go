package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"intouch/internal/config"
	"intouch/internal/middleware"

	"gorm.io/gorm"
)

// Schema modes selected by DB_SCHEMA_MODE.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaPlan says which schema steps run for a configuration. Hybrid runs
// the SQL migrations everywhere and AutoMigrate only outside production-like
// environments, so model fields added during development appear without a
// migration file while deployed databases stay under versioned SQL.
type SchemaPlan struct {
	Mode    string
	RunSQL  bool
	RunAuto bool
}

// SchemaStatus is the plan plus the migration state of one database.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
}

func isProdLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

// normalizedSchemaMode returns DB_SCHEMA_MODE as PlanSchema interprets it.
func normalizedSchemaMode(cfg *config.Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	if mode == "" {
		mode = SchemaModeHybrid
	}
	return mode
}

// PlanSchema resolves DB_SCHEMA_MODE against the environment. AutoMigrate in
// a production-like environment needs DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE.
func PlanSchema(cfg *config.Config) (SchemaPlan, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode))
	if mode == "" {
		mode = SchemaModeHybrid
	}
	plan := SchemaPlan{Mode: mode}
	prodLike := isProdLikeEnv(cfg.Env)

	switch mode {
	case SchemaModeSQL:
		plan.RunSQL = true
	case SchemaModeHybrid:
		plan.RunSQL, plan.RunAuto = true, !prodLike
	case SchemaModeAuto:
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return SchemaPlan{}, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		plan.RunAuto = true
	default:
		return SchemaPlan{}, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
	return plan, nil
}

func runAutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}

// ApplySchema executes the plan for cfg.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := PlanSchema(cfg)
	if err != nil {
		return err
	}

	if plan.RunSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if !plan.RunAuto {
		return nil
	}

	if isProdLikeEnv(cfg.Env) {
		middleware.Logger.Warn("AutoMigrate running in a production-like environment; review schema diffs before deploying",
			slog.String("env", cfg.Env))
	}
	middleware.Logger.Info("Running GORM AutoMigrate", slog.String("mode", plan.Mode), slog.String("env", cfg.Env))
	if err := runAutoMigrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// GetSchemaStatus reports what ApplySchema would do without changing anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := PlanSchema(cfg)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{
		Mode:               plan.Mode,
		Environment:        cfg.Env,
		WillRunSQL:         plan.RunSQL,
		WillRunAutoMigrate: plan.RunAuto,
	}
	if !plan.RunSQL {
		return status, nil
	}

	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(db, migrations)
	logs, err := migrator.Applied(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		status.AppliedVersions = append(status.AppliedVersions, l.Version)
	}
	if status.PendingMigrations, err = migrator.Pending(ctx); err != nil {
		return nil, err
	}
	return status, nil
}
