package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/seqcache"
	"github.com/hupe1980/seqcache/internal/bench"
)

// NewBenchCmd creates the "bench" subcommand.
func NewBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure allocation throughput and latency against the configured backend",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}

	cmd.Flags().StringSlice("sequences", []string{"bench"}, "Sequences to allocate from")
	cmd.Flags().IntP("parallelism", "p", 8, "Number of concurrent workers")
	cmd.Flags().Int64("total", 0, "Stop after this many ids")
	cmd.Flags().Duration("duration", 10*time.Second, "Stop after this long (0 disables)")
	cmd.Flags().Float64("rate", 0, "Target ids per second across all workers (0 is unlimited)")
	cmd.Flags().Int64("block-size", 0, "Ids reserved per store round trip (default: cache.block_size)")

	return cmd
}

func runBench(cmd *cobra.Command, _ []string) error {
	wl := bench.Workload{}
	wl.Sequences, _ = cmd.Flags().GetStringSlice("sequences")
	wl.Parallelism, _ = cmd.Flags().GetInt("parallelism")
	wl.TotalIDs, _ = cmd.Flags().GetInt64("total")
	wl.Duration, _ = cmd.Flags().GetDuration("duration")
	wl.TargetRate, _ = cmd.Flags().GetFloat64("rate")
	wl.BlockSize, _ = cmd.Flags().GetInt64("block-size")

	ctx := cmd.Context()
	metrics := &seqcache.BasicMetricsCollector{}
	e, err := openEnv(ctx, cmd, seqcache.WithMetricsCollector(metrics))
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	res, err := bench.Run(ctx, e.cache, wl)
	if err != nil {
		return exitError(exitUsage, "%s", err)
	}

	out := cmd.OutOrStdout()
	res.Print(out)

	stats := metrics.GetStats()
	_, _ = fmt.Fprintf(out, "refills: %d  conflicts: %d  refill avg: %s\n",
		stats.RefillCount, stats.Conflicts, time.Duration(stats.RefillAvgNanos))

	if res.Duplicates > 0 {
		return exitError(exitStore, "uniqueness audit failed: %d duplicate ids", res.Duplicates)
	}
	return nil
}
