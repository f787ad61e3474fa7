// Package app wires a workspace together: config file, database, migrations
// and the commission category seed shared by the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leboy/internal/config"
	"leboy/internal/db"
	"leboy/internal/domain"
	"leboy/internal/engine"
	"leboy/internal/migrate"
	"leboy/internal/repo"
)

// Open loads the workspace config, opens the database, runs migrations and
// seeds the commission catalog. The returned engine is ready to serve.
func Open(ctx context.Context, workspace string) (engine.Engine, *sql.DB, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return engine.Engine{}, nil, fmt.Errorf("validate config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("run migrations: %w", err)
	}
	e := engine.New(conn, cfg)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := SeedCommissionConfigs(ctx, e.Repo, cfg, now); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("seed commission configs: %w", err)
	}
	return e, conn, nil
}

// SeedCommissionConfigs inserts the config file's category catalog into the
// database, leaving operator-edited rows untouched.
func SeedCommissionConfigs(ctx context.Context, r repo.Repo, cfg *config.Config, now string) error {
	for id, cat := range cfg.Commission.Categories {
		enabled := true
		if cat.Enabled != nil {
			enabled = *cat.Enabled
		}
		c := domain.CommissionConfig{
			Category:      id,
			Name:          cat.Name,
			BasePercent:   cat.BasePercent,
			MinCommission: cat.MinCommission,
			MaxCommission: cat.MaxCommission,
			RiskPercent:   cat.RiskPercent,
			Enabled:       enabled,
			UpdatedAt:     now,
		}
		if err := r.SeedCommissionConfig(ctx, c); err != nil {
			return fmt.Errorf("seed category %s: %w", id, err)
		}
	}
	return nil
}
