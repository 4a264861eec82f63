package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCreateCmd creates the "create" subcommand.
func NewCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <sequence>...",
		Short: "Create sequences in the counter store",
		Long:  "Create initializes each counter at 0 unless it already exists. Existing counters are left untouched.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCreate,
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	for _, name := range args {
		if err := e.cache.CreateSequence(ctx, name); err != nil {
			return storeExit(err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", name)
	}
	return nil
}
