package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantlake/go-market-etl/internal/config"
	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/exchange"
	"github.com/quantlake/go-market-etl/internal/logger"
	"github.com/quantlake/go-market-etl/internal/models"
	"github.com/quantlake/go-market-etl/internal/normalize"
	"github.com/quantlake/go-market-etl/internal/pipeline"
	"github.com/quantlake/go-market-etl/internal/registry"
	"github.com/quantlake/go-market-etl/internal/storage"
)

const dateLayout = "2006-01-02"

var (
	pullSymbols  []string
	pullInterval string
	pullDays     int
	pullStart    string
	pullEnd      string
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch and upsert historical candles",
	Long: `Pull historical OHLCV candles for the configured symbols.

Two modes are available. Without --start-date the pull is incremental:
a lookback window of --days ending now. With --start-date the pull is a
backfill over [start-date, end-date) at 00:00:00 UTC; --start-date
overrides --days, and --end-date defaults to now.

Examples:
  market-etl pull --symbols BTCUSDT,ETHUSDT --interval 1h --days 30
  market-etl pull --symbols BTCUSDT --interval 1d --start-date 2024-01-01 --end-date 2024-06-01`,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().StringSliceVar(&pullSymbols, "symbols", nil, "symbols to pull (defaults from config)")
	pullCmd.Flags().StringVar(&pullInterval, "interval", "", "candle interval, e.g. 1m, 1h, 1d (defaults from config)")
	pullCmd.Flags().IntVar(&pullDays, "days", 0, "incremental lookback window in days (defaults from config)")
	pullCmd.Flags().StringVar(&pullStart, "start-date", "", "backfill start date (YYYY-MM-DD, UTC)")
	pullCmd.Flags().StringVar(&pullEnd, "end-date", "", "backfill end date (YYYY-MM-DD, UTC), defaults to now")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags override config defaults.
	symbols := cfg.Symbols
	if len(pullSymbols) > 0 {
		symbols = pullSymbols
	}
	intervalToken := cfg.Interval
	if pullInterval != "" {
		intervalToken = pullInterval
	}
	days := cfg.LookbackDays
	if pullDays > 0 {
		days = pullDays
	}

	interval, err := models.ParseInterval(intervalToken)
	if err != nil {
		return err
	}

	in := pipeline.PlanInput{Days: days, Interval: interval}
	in.StartDate, in.EndDate, err = parseDateFlags(pullStart, pullEnd)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer closeLog()

	planner := pipeline.Planner{}
	rng, err := planner.Plan(in)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := storage.NewTimescaleStorage(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger.Component(log, "storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	// Fail fast on a dead store before any exchange traffic.
	if err := store.HealthCheck(ctx); err != nil {
		return err
	}

	clientOpts := []exchange.Option{
		exchange.WithLogger(logger.Component(log, "exchange")),
		exchange.WithTimeout(cfg.Exchange.Timeout),
	}
	if cfg.Exchange.BaseURL != "" {
		clientOpts = append(clientOpts, exchange.WithBaseURL(cfg.Exchange.BaseURL))
	}
	client := exchange.NewBinanceClient(clientOpts...)

	resolver := registry.NewCachedResolver(registry.NewPostgresRegistry(store.Pool(), cfg.Exchange.Name))
	normalizer := normalize.New(resolver, logger.Component(log, "normalize"))

	orch := pipeline.NewOrchestrator(client, normalizer, store, cfg.Concurrency, logger.Component(log, "pipeline"))
	report := orch.Run(ctx, symbols, rng)

	printReport(cmd, report)

	if report.Failed() {
		return fmt.Errorf("run %s finished with failed symbols", report.RunID)
	}
	return nil
}

// parseDateFlags parses the backfill date flags. An --end-date without a
// --start-date is rejected: silently falling back to the lookback window
// would give the user an unbounded-looking range they thought they capped.
func parseDateFlags(startFlag, endFlag string) (*time.Time, *time.Time, error) {
	if startFlag == "" && endFlag != "" {
		return nil, nil, qerrors.NewConfigurationError("end-date", "--end-date requires --start-date")
	}

	var start, end *time.Time
	if startFlag != "" {
		t, err := time.Parse(dateLayout, startFlag)
		if err != nil {
			return nil, nil, qerrors.NewConfigurationError("start-date", "invalid date %q, want YYYY-MM-DD", startFlag)
		}
		start = &t
	}
	if endFlag != "" {
		t, err := time.Parse(dateLayout, endFlag)
		if err != nil {
			return nil, nil, qerrors.NewConfigurationError("end-date", "invalid date %q, want YYYY-MM-DD", endFlag)
		}
		end = &t
	}
	return start, end, nil
}

func printReport(cmd *cobra.Command, report *models.RunReport) {
	cmd.Printf("run %s over %s (%s)\n", report.RunID, report.Range.String(), report.Elapsed.Round(time.Millisecond))
	for i := range report.Summaries {
		cmd.Printf("  %s\n", report.Summaries[i].String())
	}
}
