// Package pgxpool pools raw *pgx.Conn connections behind respool's core —
// the "database connections" resource named in the pool's purpose
// statement — rather than layering on top of pgx's own pgxpool.Pool,
// since the point of this adapter is to exercise the generic core.
package pgxpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coachpo/respool/pool"
)

// Config describes how pooled connections are dialed and health-checked.
type Config struct {
	DSN          string
	ConnTimeout  time.Duration
	MaxLifetime  time.Duration
}

// Allocator dials a fresh Postgres connection.
func Allocator(cfg Config) pool.Allocator[*pgx.Conn] {
	return func(ctx context.Context) (*pgx.Conn, error) {
		dialCtx := ctx
		var cancel context.CancelFunc
		if cfg.ConnTimeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnTimeout)
			defer cancel()
		}
		conn, err := pgx.Connect(dialCtx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	}
}

// ReleaseHandler pings the connection (via an empty round trip) to confirm
// it survived the borrow; a ping failure is treated as a release error,
// which the core pool routes straight to destroy.
func ReleaseHandler() pool.ReleaseHandler[*pgx.Conn] {
	return func(ctx context.Context, conn *pgx.Conn) error {
		return conn.Ping(ctx)
	}
}

// EvictionPredicate retires a connection once it has lived longer than
// maxLifetime, bounding exposure to server-side connection limits and
// stale query plans.
func EvictionPredicate(maxLifetime time.Duration) pool.EvictionPredicate[*pgx.Conn] {
	return func(_ *pgx.Conn, meta pool.Metadata) bool {
		return maxLifetime > 0 && meta.LifeTime > maxLifetime
	}
}

// Destroyer closes a pooled connection.
func Destroyer() pool.Destroyer[*pgx.Conn] {
	return func(ctx context.Context, conn *pgx.Conn) error {
		return conn.Close(ctx)
	}
}

// New builds a Pool of Postgres connections from cfg.
func New(cfg Config, configure func(*pool.PoolBuilder[*pgx.Conn]) *pool.PoolBuilder[*pgx.Conn]) (*pool.Pool[*pgx.Conn], error) {
	builder := pool.From(Allocator(cfg)).
		WithReleaseHandler(ReleaseHandler()).
		WithDestroyHandler(Destroyer()).
		WithEvictionPredicate(EvictionPredicate(cfg.MaxLifetime))

	if configure != nil {
		builder = configure(builder)
	}

	poolCfg, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return pool.New(poolCfg), nil
}
