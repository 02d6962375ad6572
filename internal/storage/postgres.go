package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/models"
)

const quotesTable = "market_quotes"

// TimescaleStorage implements CandleStore against a TimescaleDB (or plain
// PostgreSQL) hypertable keyed (time, asset_id). Partitioning, retention
// and schema bootstrap are external configuration; this layer only relies
// on the upsert contract.
type TimescaleStorage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTimescaleStorage opens a connection pool for the given DSN. The pool
// is shared read/write across symbol tasks; no cross-symbol locking is
// needed since tasks write disjoint asset_id key spaces.
func NewTimescaleStorage(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*TimescaleStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &TimescaleStorage{pool: pool, logger: logger}, nil
}

// StoreBatch implements CandleWriter. The whole page goes out as one
// multi-row INSERT ... ON CONFLICT (time, asset_id) DO UPDATE, so the
// batch either applies fully or not at all.
func (s *TimescaleStorage) StoreBatch(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	start := time.Now()

	query, args := buildUpsert(candles)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, &qerrors.PersistenceError{Operation: "upsert", Table: quotesTable, Err: err}
	}

	written := int(tag.RowsAffected())
	s.logger.Debug("stored candle batch",
		"count", written,
		"duration", time.Since(start))
	return written, nil
}

// buildUpsert renders one parameterized multi-row upsert statement for
// the batch. Decimals are passed as their exact string form; PostgreSQL
// coerces them to the column type without a float round-trip.
func buildUpsert(candles []models.Candle) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quotesTable)
	sb.WriteString(" (time, asset_id, open, high, low, close, volume) VALUES ")

	args := make([]any, 0, len(candles)*7)
	for i, c := range candles {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			c.Time, c.AssetID,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
	}

	sb.WriteString(` ON CONFLICT (time, asset_id) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`)

	return sb.String(), args
}

// GetLatest implements CandleReader.
func (s *TimescaleStorage) GetLatest(ctx context.Context, assetID int64) (*models.Candle, error) {
	const query = `
		SELECT time, asset_id, open::text, high::text, low::text, close::text, volume::text
		FROM market_quotes
		WHERE asset_id = $1
		ORDER BY time DESC
		LIMIT 1`

	rows, err := s.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, &qerrors.PersistenceError{Operation: "query", Table: quotesTable, Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var (
		c      models.Candle
		fields [5]string
	)
	if err := rows.Scan(&c.Time, &c.AssetID, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
		return nil, &qerrors.PersistenceError{Operation: "scan", Table: quotesTable, Err: err}
	}

	dst := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return nil, &qerrors.PersistenceError{Operation: "scan", Table: quotesTable, Err: err}
		}
		*dst[i] = d
	}
	c.Time = c.Time.UTC()
	return &c, nil
}

// Pool exposes the underlying connection pool. The asset registry shares
// it; symbol tasks write disjoint keys so no extra locking is needed.
func (s *TimescaleStorage) Pool() *pgxpool.Pool {
	return s.pool
}

// HealthCheck implements HealthChecker.
func (s *TimescaleStorage) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *TimescaleStorage) Close() {
	s.pool.Close()
}
