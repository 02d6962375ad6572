// Package registry resolves trading symbols to asset IDs against the
// master-data store. The pipeline only reads from the registry; asset
// creation is owned by a separate master-data process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
)

// Resolver maps a symbol to its registered asset ID. Resolution fails
// with UnknownAssetError when no asset matches; that is fatal for the
// requesting symbol's run but not for other symbols.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (int64, error)
}

// PostgresRegistry resolves symbols against the assets table, scoped to
// one exchange.
type PostgresRegistry struct {
	pool     *pgxpool.Pool
	exchange string
}

// NewPostgresRegistry creates a registry reading from the given pool.
func NewPostgresRegistry(pool *pgxpool.Pool, exchange string) *PostgresRegistry {
	return &PostgresRegistry{pool: pool, exchange: exchange}
}

// Resolve implements Resolver.
func (r *PostgresRegistry) Resolve(ctx context.Context, symbol string) (int64, error) {
	const query = `SELECT id FROM assets WHERE symbol = $1 AND exchange = $2 AND is_active`

	var id int64
	err := r.pool.QueryRow(ctx, query, symbol, r.exchange).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &qerrors.UnknownAssetError{Symbol: symbol, Exchange: r.exchange}
	}
	if err != nil {
		return 0, fmt.Errorf("asset lookup for %s failed: %w", symbol, err)
	}
	return id, nil
}

// CachedResolver memoizes successful resolutions. The cache is populated
// lazily and is read-only after first population per symbol; a per-key
// guard ensures a single writer during population so concurrent symbol
// tasks never race on the same lookup.
type CachedResolver struct {
	inner Resolver

	mu    sync.RWMutex
	ids   map[string]int64
	locks map[string]*sync.Mutex
}

// NewCachedResolver wraps a Resolver with a lazy lookup cache.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		ids:   make(map[string]int64),
		locks: make(map[string]*sync.Mutex),
	}
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, symbol string) (int64, error) {
	c.mu.RLock()
	id, ok := c.ids[symbol]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	lock := c.keyLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	// Another task may have populated the key while we waited.
	c.mu.RLock()
	id, ok = c.ids[symbol]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := c.inner.Resolve(ctx, symbol)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ids[symbol] = id
	c.mu.Unlock()
	return id, nil
}

func (c *CachedResolver) keyLock(symbol string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}
	return lock
}
