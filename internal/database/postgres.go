package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type PgWyaRepository struct {
	conn *sql.DB
}

func NewPgWyaRepository(dsn string) (*PgWyaRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgWyaRepository{conn: db}, nil
}

// Migrate applies any pending schema migrations from migrationsPath.
func (db *PgWyaRepository) Migrate(migrationsPath string) error {
	driver, err := migratepg.WithInstance(db.conn, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

func (db *PgWyaRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgWyaRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
