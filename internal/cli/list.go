package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/seqcache/counterstore"
)

// NewListCmd creates the "list" subcommand.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sequences and their high-water marks",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	lister, ok := e.store.(counterstore.Lister)
	if !ok {
		return exitError(exitUsage, "%s backend cannot list sequences", e.cfg.Backend.Type)
	}

	names, err := lister.List(ctx)
	if err != nil {
		if errors.Is(err, counterstore.ErrNotListable) {
			return exitError(exitUsage, "%s backend cannot list sequences", e.cfg.Backend.Type)
		}
		return exitError(exitStore, "listing sequences: %s", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SEQUENCE\tHIGH-WATER MARK")
	for _, name := range names {
		v, found, err := e.store.ReadCurrentValue(ctx, name)
		if err != nil {
			return exitError(exitStore, "reading %q: %s", name, err)
		}
		if !found {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", name, v)
	}
	return tw.Flush()
}
