package registry

import (
	"context"
	"sync"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
)

// MemoryRegistry is an in-memory Resolver used in tests.
type MemoryRegistry struct {
	exchange string

	mu  sync.RWMutex
	ids map[string]int64
}

// NewMemoryRegistry creates an empty in-memory registry for one exchange.
func NewMemoryRegistry(exchange string) *MemoryRegistry {
	return &MemoryRegistry{exchange: exchange, ids: make(map[string]int64)}
}

// Register adds a symbol to the registry.
func (m *MemoryRegistry) Register(symbol string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[symbol] = id
}

// Resolve implements Resolver.
func (m *MemoryRegistry) Resolve(_ context.Context, symbol string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[symbol]
	if !ok {
		return 0, &qerrors.UnknownAssetError{Symbol: symbol, Exchange: m.exchange}
	}
	return id, nil
}
