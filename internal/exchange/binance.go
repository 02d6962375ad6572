// Package exchange provides the Binance REST adapter for historical kline
// (candlestick) retrieval, and the page stream that stitches bounded API
// pages into a gapless traversal of an arbitrary time range.
//
// The adapter handles client-side rate limiting, Retry-After aware backoff
// on HTTP 429, and bounded retries on transient failures. It returns raw
// candles; parsing into the canonical model is the normalizer's job.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/quantlake/go-market-etl/internal/models"
)

const (
	// Binance spot REST API base URL.
	binanceBaseURL = "https://api.binance.com"

	klinesEndpoint = "/api/v3/klines"
	pingEndpoint   = "/api/v3/ping"

	// MaxCandlesPerRequest is the exchange's hard cap on candles per
	// klines call. It is a property of the API, not configurable here.
	MaxCandlesPerRequest = 1000

	// Rate limiting configuration. Binance allows 1200 request weight
	// per minute; klines cost weight 2, so 10 req/s stays well inside.
	maxRequestsPerSecond = 10
	rateLimitBurst       = 1

	requestTimeout = 30 * time.Second

	// Retry configuration.
	maxRetries        = 5
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5

	healthCheckTimeout = 5 * time.Second
)

// RawCandle is one kline exactly as the exchange encodes it: an epoch-ms
// open time and decimal strings for prices and volume.
type RawCandle struct {
	OpenTime time.Time
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
}

// KlineSource retrieves one page of raw candles. Implemented by
// BinanceClient; test doubles implement it with synthetic pages.
type KlineSource interface {
	// Klines returns up to limit candles with open times in
	// [start, end), ordered oldest first.
	Klines(ctx context.Context, symbol string, interval models.Interval, start, end time.Time, limit int) ([]RawCandle, error)
}

// BinanceClient implements KlineSource against the Binance spot REST API.
type BinanceClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// Option customizes a BinanceClient.
type Option func(*BinanceClient)

// WithBaseURL overrides the API base URL (used in tests against httptest).
func WithBaseURL(u string) Option {
	return func(c *BinanceClient) { c.baseURL = u }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *BinanceClient) { c.logger = l }
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *BinanceClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewBinanceClient creates a Binance REST client with rate limiting and
// retry behavior configured.
func NewBinanceClient(opts ...Option) *BinanceClient {
	c := &BinanceClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(maxRequestsPerSecond), rateLimitBurst),
		baseURL:     binanceBaseURL,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Klines implements KlineSource.
func (c *BinanceClient) Klines(ctx context.Context, symbol string, interval models.Interval, start, end time.Time, limit int) ([]RawCandle, error) {
	if limit <= 0 || limit > MaxCandlesPerRequest {
		limit = MaxCandlesPerRequest
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval.String())
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	// endTime is inclusive on the exchange side; the half-open range
	// contract is enforced by subtracting one candle slot's final ms.
	params.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	params.Set("limit", strconv.Itoa(limit))

	requestURL := c.baseURL + klinesEndpoint + "?" + params.Encode()

	c.logger.Debug("fetching klines",
		"symbol", symbol,
		"interval", interval.String(),
		"start", start,
		"end", end,
		"limit", limit)

	body, err := c.getWithRetry(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	candles, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	c.logger.Debug("fetched klines", "symbol", symbol, "count", len(candles))
	return candles, nil
}

// HealthCheck verifies the exchange is reachable using the ping endpoint.
func (c *BinanceClient) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, c.baseURL+pingEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// getWithRetry performs a GET with exponential backoff and jitter. Rate
// limit responses honor the Retry-After header before retrying; client
// errors other than 429 are permanent. The identical URL is re-requested
// on every attempt, so a retried page covers the identical window.
func (c *BinanceClient) getWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryDelay
	policy.MaxInterval = maxRetryDelay
	policy.Multiplier = retryMultiplier
	policy.RandomizationFactor = retryJitter
	policy.MaxElapsedTime = 0 // bounded by maxRetries and context

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-market-etl/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err) // retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryAfter > 0 {
				c.logger.Warn("rate limited by exchange, waiting", "retry_after", retryAfter)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return nil, backoff.Permanent(ctx.Err())
				}
			}
			return nil, fmt.Errorf("rate limited") // retryable
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err) // retryable
		}

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body)) // retryable
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(body)))
		}

		return body, nil
	}

	return backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// parseKlines decodes the exchange's array-of-arrays kline encoding:
// [[openTime, open, high, low, close, volume, closeTime, ...], ...]
// where openTime is epoch milliseconds and prices are decimal strings.
func parseKlines(body []byte) ([]RawCandle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]RawCandle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d has %d fields, want at least 6", i, len(row))
		}

		var openMillis int64
		if err := json.Unmarshal(row[0], &openMillis); err != nil {
			return nil, fmt.Errorf("kline row %d: invalid open time: %w", i, err)
		}

		fields := make([]string, 5)
		for j := 1; j <= 5; j++ {
			if err := json.Unmarshal(row[j], &fields[j-1]); err != nil {
				return nil, fmt.Errorf("kline row %d: invalid field %d: %w", i, j, err)
			}
		}

		candles = append(candles, RawCandle{
			OpenTime: time.UnixMilli(openMillis).UTC(),
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}
	return candles, nil
}
