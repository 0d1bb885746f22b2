package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "devicehub",
	Short:        "Device hub user service with cluster-coherent caches",
	Long:         "User and granted-authority service backed by SQLite, fronted by named LRU/TTL caches kept coherent over an invalidation bus.",
	SilenceUsage: true,
}

// Execute runs the root command. Called once by main.main().
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	ctx = logging.WithLogger(ctx, logging.New(rootCmd.ErrOrStderr(), "info", "text"))
	ctx = logging.WithAttrs(ctx, slog.String("app", "devicehub"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (default: ./configs/config.yaml or ./config.yaml)")
}
