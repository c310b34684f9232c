// Package database はPostgreSQL/Redis接続とスキーママイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyDatabase は前回のマイグレーションが途中で失敗したままであることを示す。
// 手動で schema_migrations を修復するまで適用を拒否する。
var ErrDirtyDatabase = errors.New("database schema is dirty")

// SchemaVersion はschema_migrationsに記録された現在のスキーマ状態。
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// NewMigrator は埋め込みマイグレーションを参照するmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// 最新の場合は何もしない。dirty状態の場合は ErrDirtyDatabase を返す。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return err
	}
	if before.Dirty {
		return fmt.Errorf("%w: version %d", ErrDirtyDatabase, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CurrentVersion は適用済みのスキーマバージョンを返す。
// 未適用の場合は Version 0 を返す。
func CurrentVersion(databaseURL string) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()
	return currentVersion(m)
}

func currentVersion(m *migrate.Migrate) (SchemaVersion, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}
