package database

import (
	"errors"
	"fmt"

	"waconsole/state"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"gorm.io/gorm"
)

// MigrateDatabase applies the SQL migrations that gorm's AutoMigrate cannot
// express (partial unique indexes, see database/migrations). MySQL has no
// partial indexes, so only the auto-migrated schema applies there.
func MigrateDatabase(db *gorm.DB) error {
	cfg := state.State.Config

	sqlDb, err := db.DB()
	if err != nil {
		return err
	}

	var (
		m      *migrate.Migrate
		dbType = cfg.Database["type"]
	)
	switch dbType {
	case "sqlite3", "sqlite":
		driver, err := migratesqlite.WithInstance(sqlDb, &migratesqlite.Config{})
		if err != nil {
			return err
		}
		m, err = migrate.NewWithDatabaseInstance(
			"file://database/migrations/sqlite",
			"sqlite3", driver)
		if err != nil {
			return err
		}
	case "postgres":
		driver, err := migratepg.WithInstance(sqlDb, &migratepg.Config{})
		if err != nil {
			return err
		}
		m, err = migrate.NewWithDatabaseInstance(
			"file://database/migrations/postgres",
			"postgres", driver)
		if err != nil {
			return err
		}
	default:
		return nil
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply database migrations : %w", err)
	}

	return nil
}
