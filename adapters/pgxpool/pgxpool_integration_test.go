//go:build integration

package pgxpool_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/respool/adapters/pgxpool"
	"github.com/coachpo/respool/pool"
)

func TestPostgresConnectionPoolRecyclesAcrossBorrows(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "respool"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/respool?sslmode=disable", host, port.Port())

	require.NoError(t, applyMigrations(t, dsn))

	p, err := pgxpool.New(pgxpool.Config{DSN: dsn, ConnTimeout: 5 * time.Second}, func(b *pool.PoolBuilder[*pgx.Conn]) *pool.PoolBuilder[*pgx.Conn] {
		return b.WithStrategy(pool.NewBoundedStrategy(2))
	})
	require.NoError(t, err)

	ref1, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = ref1.Resource().Exec(ctx, "insert into pool_probe default values")
	require.NoError(t, err)
	require.NoError(t, ref1.Release())

	ref2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, ref1.Resource(), ref2.Resource())
	var count int
	row := ref2.Resource().QueryRow(ctx, "select count(*) from pool_probe")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, ref2.Release())

	require.NoError(t, p.Dispose(ctx))
}

func applyMigrations(t *testing.T, dsn string) error {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	migrationsDir := filepath.Join(filepath.Dir(file), "migrations")
	sourceURL := fmt.Sprintf("file://%s", migrationsDir)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
