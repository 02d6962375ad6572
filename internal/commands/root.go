// Package commands defines the market-etl CLI surface with cobra.
package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "market-etl",
	Short: "Historical OHLCV candle ingestion pipeline",
	Long: `market-etl pulls historical OHLCV candles from the exchange REST API,
normalizes them into canonical time-series records and upserts them into
a time-partitioned store keyed on (time, asset_id).

Re-running over an already-populated range is safe: unchanged rows are a
no-op and changed rows converge to the latest fetched values.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the CLI under the given context, which carries the
// run-level cancellation from signal handling.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
}
