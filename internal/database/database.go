// Package database opens the PostgreSQL pool shared by the server, the worker
// and the CLI, and applies the schema migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/OFFIS-RIT/reqtrace/internal/util"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const DefaultMigrationsPath = "migrations"

// Connect opens a pool whose connections know the pgvector types and waits
// until the database answers a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	err = util.RetryErrWithContext(ctx, 5, 500*time.Millisecond, func(ctx context.Context) error {
		err := pool.Ping(ctx)
		if err != nil {
			logger.Warn("[Database] Ping failed, retrying", "err", err)
		}
		return err
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	return pool, nil
}

// Migrate applies all pending up migrations from path. An already current
// schema is not an error.
func Migrate(databaseURL, path string) error {
	m, err := migrate.New(SourceURL(path), MigrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	logger.Info("[Database] Schema up to date", "version", version, "dirty", dirty)
	return nil
}

// SourceURL turns a directory into a golang-migrate file source url.
func SourceURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	if path == "" {
		path = DefaultMigrationsPath
	}
	return "file://" + filepath.ToSlash(path)
}

// MigrateURL rewrites pgx style urls to the scheme the postgres migrate
// driver registers.
func MigrateURL(databaseURL string) string {
	for _, prefix := range []string{"pgx5://", "pgx://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, prefix); ok {
			return "postgres://" + rest
		}
	}
	return databaseURL
}
