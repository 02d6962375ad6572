package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
)

// countingResolver wraps a MemoryRegistry and counts lookups.
type countingResolver struct {
	inner *MemoryRegistry
	calls atomic.Int64
}

func (c *countingResolver) Resolve(ctx context.Context, symbol string) (int64, error) {
	c.calls.Add(1)
	return c.inner.Resolve(ctx, symbol)
}

func TestMemoryRegistryResolve(t *testing.T) {
	reg := NewMemoryRegistry("BINANCE")
	reg.Register("BTCUSDT", 42)

	id, err := reg.Resolve(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = reg.Resolve(context.Background(), "DOGEUSDT")
	require.Error(t, err)
	assert.True(t, qerrors.IsUnknownAsset(err))
	assert.Contains(t, err.Error(), "DOGEUSDT")
	assert.Contains(t, err.Error(), "BINANCE")
}

func TestCachedResolverHitsInnerOnce(t *testing.T) {
	reg := NewMemoryRegistry("BINANCE")
	reg.Register("BTCUSDT", 7)
	counting := &countingResolver{inner: reg}
	cached := NewCachedResolver(counting)

	for i := 0; i < 5; i++ {
		id, err := cached.Resolve(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	}
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestCachedResolverDoesNotCacheFailures(t *testing.T) {
	reg := NewMemoryRegistry("BINANCE")
	counting := &countingResolver{inner: reg}
	cached := NewCachedResolver(counting)

	_, err := cached.Resolve(context.Background(), "BTCUSDT")
	assert.True(t, qerrors.IsUnknownAsset(err))

	// The asset shows up later (registered out of band): the next lookup
	// must go through instead of serving a cached miss.
	reg.Register("BTCUSDT", 7)
	id, err := cached.Resolve(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestCachedResolverConcurrentLookups(t *testing.T) {
	reg := NewMemoryRegistry("BINANCE")
	reg.Register("BTCUSDT", 7)
	reg.Register("ETHUSDT", 8)
	counting := &countingResolver{inner: reg}
	cached := NewCachedResolver(counting)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		symbol := "BTCUSDT"
		if i%2 == 0 {
			symbol = "ETHUSDT"
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			id, err := cached.Resolve(context.Background(), symbol)
			assert.NoError(t, err)
			assert.NotZero(t, id)
		}(symbol)
	}
	wg.Wait()

	// One lookup per distinct symbol, however many tasks raced.
	assert.Equal(t, int64(2), counting.calls.Load())
}
