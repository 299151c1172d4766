// Package migraterunner applies schema migrations and exits.
package migraterunner

import (
	"context"

	"github.com/formationai/marketplace/postgres"
	"github.com/formationai/marketplace/runner"
)

type migraterunner struct {
	migrations *postgres.MigrationRunner
}

// New builds the migrate runner.
func New(cfg *runner.Config) (runner.Runner, error) {
	migrations := postgres.NewMigrationRunner(cfg.Dsn)
	if cfg.MigrationsDir != "" {
		if err := migrations.SetMigrationsDir(cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}

	return &migraterunner{migrations: migrations}, nil
}

func (m *migraterunner) Run(context.Context) error {
	return m.migrations.RunMigrations()
}

func (m *migraterunner) Close(context.Context) error {
	return nil
}
