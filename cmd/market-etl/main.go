// market-etl pulls historical OHLCV candles from the exchange REST API
// and upserts them into the time-partitioned market quote store.
//
// Usage:
//
//	market-etl pull --symbols BTCUSDT,ETHUSDT --interval 1h --days 30
//	market-etl pull --symbols BTCUSDT --interval 1d --start-date 2024-01-01
//
// For detailed help on any command, use: market-etl <command> --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantlake/go-market-etl/internal/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
