// Package database owns the single pgx connection pool the rest of
// the process shares: the settled-bet writer and the wallet ledger
// both dial through here rather than opening their own pools. The
// migration CLI opens its own database/sql connection and uses only
// this package's migration functions.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	database = getEnv("BLUEPRINT_DB_DATABASE", "crashdb")
	password = getEnv("BLUEPRINT_DB_PASSWORD", "postgres")
	username = getEnv("BLUEPRINT_DB_USERNAME", "postgres")
	host     = getEnv("BLUEPRINT_DB_HOST", "localhost")
	port     = getEnv("BLUEPRINT_DB_PORT", "5432")
	schema   = getEnv("BLUEPRINT_DB_SCHEMA", "public")
)

// Service is the health-checkable handle to the pool. Health() is
// polled by the server's /health route; Close() is called once, on
// shutdown.
type Service interface {
	Health() map[string]string
	Close() error
	Pool() *pgxpool.Pool
}

type service struct {
	pool *pgxpool.Pool
}

// New dials the pool described by the BLUEPRINT_DB_* environment
// variables. It does not fail on a bad connection string: Health()
// surfaces that instead, matching the rest of the process's pattern of
// degrading rather than refusing to boot when Postgres is briefly
// unreachable.
func New() Service {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Printf("[DB] failed to create pool: %v", err)
	}
	return &service{pool: pool}
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if s.pool == nil {
		stats["status"] = "down"
		stats["error"] = "pool not initialized"
		return stats
	}

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	poolStats := s.pool.Stat()
	stats["status"] = "up"
	stats["message"] = "It's healthy"
	stats["open_connections"] = fmt.Sprintf("%d", poolStats.TotalConns())
	stats["idle_connections"] = fmt.Sprintf("%d", poolStats.IdleConns())
	return stats
}

func (s *service) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func newMigrator(db *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("build migration driver: %w", err)
	}
	return migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
}

// RunMigrations applies every pending migration under migrationsPath.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// RollbackMigration reverts the single most recently applied migration.
func RollbackMigration(db *sql.DB, migrationsPath string) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// GetMigrationVersion reports the schema's current migration version
// and whether it was left in a dirty (partially-applied) state.
func GetMigrationVersion(db *sql.DB, migrationsPath string) (uint, bool, error) {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	return version, dirty, err
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
