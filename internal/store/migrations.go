package store

import (
	"database/sql"
	"fmt"

	"github.com/fieldworks/fieldsync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations brings the schema for all four offline collections up to
// date from the embedded SQL files. Safe to call on every open; goose tracks
// applied versions in its own table.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger()) // goose writes to stdout by default
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
