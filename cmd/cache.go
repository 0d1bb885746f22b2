package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"devicehub/internal/bootstrap"
	"devicehub/internal/errs"
	"devicehub/internal/usecase/usermgmt"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and flush the named caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show configuration and counters of this process's caches",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		return writeJSON(cmd.OutOrStdout(), app.Users.CacheStats())
	}),
}

var cacheFlushCmd = &cobra.Command{
	Use:       "flush <cache-id>",
	Short:     "Drop every entry of a cache on all instances sharing the bus",
	Args:      cobra.ExactArgs(1),
	ValidArgs: usermgmt.CacheIDs,
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		id := cmd.Flags().Arg(0)
		if err := app.Users.FlushCache(cmd.Context(), id); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cache %s flushed\n", id); err != nil {
			return errs.Wrap(err, "write flush output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheFlushCmd)
}
