package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewNextCmd creates the "next" subcommand.
func NewNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next <sequence>",
		Short: "Print the next ids of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE:  runNext,
	}

	cmd.Flags().IntP("count", "n", 1, "Number of ids to allocate")
	cmd.Flags().Int64("block-size", 0, "Ids reserved per store round trip (default: cache.block_size)")

	return cmd
}

func runNext(cmd *cobra.Command, args []string) error {
	name := args[0]
	count, _ := cmd.Flags().GetInt("count")
	blockSize, _ := cmd.Flags().GetInt64("block-size")

	if count < 1 {
		return exitError(exitUsage, "--count must be >= 1, got %d", count)
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	// Reserve everything in one round trip unless told otherwise.
	if blockSize < 1 {
		blockSize = max(e.cfg.Cache.BlockSize, int64(count))
	}

	out := cmd.OutOrStdout()
	for range count {
		id, err := e.cache.NextIDWithBlockSize(ctx, name, blockSize)
		if err != nil {
			return storeExit(err)
		}
		_, _ = fmt.Fprintln(out, id)
	}
	return nil
}
