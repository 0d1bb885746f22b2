package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"devicehub/internal/bootstrap"
	"devicehub/internal/bootstrap/config"
	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
)

const (
	startTimeout = 10 * time.Second
	stopTimeout  = 10 * time.Second
)

// withApp loads config, starts the fx graph (database, bus, caches) and hands
// the populated App to run. Everything is stopped when run returns.
func withApp(run func(cmd *cobra.Command, app *bootstrap.App) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
		)

		cfg, err := config.Load(ctx, cfgFile)
		if err != nil {
			return errs.Wrap(err, "load config")
		}
		ctx = logging.WithLogger(ctx, logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format))
		ctx = logging.WithAttrs(ctx, slog.String("env", cfg.App.Env))
		cmd.SetContext(ctx)

		var app *bootstrap.App
		fxApp := fx.New(
			bootstrap.Module,
			fx.Supply(cfg),
			fx.Provide(func() context.Context { return ctx }),
			fx.Populate(&app),
			fx.NopLogger,
		)

		startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, app); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
