package store

import (
	"context"
	"embed"
	"fmt"
	"os"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// metaSchemaEnv is substituted into the migrations by goose ENVSUB.
const metaSchemaEnv = "SURVEYLOAD_META_SCHEMA"

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

func (s *DB) prepareGoose() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetTableName(s.metaSchema + ".goose_db_version")
	return os.Setenv(metaSchemaEnv, quote(s.metaSchema))
}

// Migrate creates the metadata schema and runs all pending migrations.
func (s *DB) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(s.metaSchema)); err != nil {
		return fmt.Errorf("create metadata schema: %w", err)
	}
	if err := s.prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version.
func (s *DB) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := s.prepareGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}
