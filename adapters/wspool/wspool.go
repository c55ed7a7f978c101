// Package wspool pools WebSocket connections behind respool's core, so
// callers borrow a ready *websocket.Conn instead of dialing one per
// request. Grounded on the dial/reconnect shape of a exchange-gateway
// stream manager, trimmed to the allocate/release/destroy contract a
// generic pool needs.
package wspool

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/coachpo/respool/pool"
)

// Config describes how to dial and tear down pooled connections.
type Config struct {
	URL           string
	DialTimeout   time.Duration
	PingTimeout   time.Duration
	DialOptions   *websocket.DialOptions
}

// Allocator dials a fresh WebSocket connection per pool.Allocator's
// contract.
func Allocator(cfg Config) pool.Allocator[*websocket.Conn] {
	return func(ctx context.Context) (*websocket.Conn, error) {
		dialCtx := ctx
		var cancel context.CancelFunc
		if cfg.DialTimeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		conn, _, err := websocket.Dial(dialCtx, cfg.URL, cfg.DialOptions)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
		}
		return conn, nil
	}
}

// ReleaseHandler pings the connection to confirm it is still usable before
// it is recycled; a failed ping is returned as a release error, which the
// core pool routes to destroy. The handler itself never closes the
// connection — that is the destroy handler's job.
func ReleaseHandler(cfg Config) pool.ReleaseHandler[*websocket.Conn] {
	return func(ctx context.Context, conn *websocket.Conn) error {
		pingCtx := ctx
		var cancel context.CancelFunc
		timeout := cfg.PingTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		return conn.Ping(pingCtx)
	}
}

// EvictionPredicate evicts connections that have sat idle for longer than
// maxIdle (0 disables it). Connections whose release-time ping failed never
// reach it: ReleaseHandler surfaces that failure as a release error, which
// destroys the connection.
func EvictionPredicate(maxIdle time.Duration) pool.EvictionPredicate[*websocket.Conn] {
	return func(_ *websocket.Conn, meta pool.Metadata) bool {
		return maxIdle > 0 && meta.IdleTimeBeforeThis > maxIdle
	}
}

// Destroyer closes a pooled connection.
func Destroyer() pool.Destroyer[*websocket.Conn] {
	return func(_ context.Context, conn *websocket.Conn) error {
		return conn.Close(websocket.StatusNormalClosure, "pool: destroy")
	}
}

// New builds a Pool of WebSocket connections from cfg, layering the
// adapter's allocate/release/destroy/eviction functions onto builder
// overrides the caller still wants (permit budget, ordering, metrics).
func New(cfg Config, maxIdle time.Duration, configure func(*pool.PoolBuilder[*websocket.Conn]) *pool.PoolBuilder[*websocket.Conn]) (*pool.Pool[*websocket.Conn], error) {
	builder := pool.From(Allocator(cfg)).
		WithReleaseHandler(ReleaseHandler(cfg)).
		WithDestroyHandler(Destroyer()).
		WithEvictionPredicate(EvictionPredicate(maxIdle))

	if configure != nil {
		builder = configure(builder)
	}

	poolCfg, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return pool.New(poolCfg), nil
}
