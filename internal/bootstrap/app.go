package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"devicehub/internal/bootstrap/config"
	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
	"devicehub/internal/infrastructure/persistence/sqlite/model"
	"devicehub/internal/usecase/usermgmt"
)

// App is what the commands see of a started fx graph.
type App struct {
	Config  config.Config
	DB      *gorm.DB
	Users   *usermgmt.Service
	Handler http.Handler
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.Component(ctx, "bootstrap.app")
	logging.Info(logCtx, "start schema migration")

	if err := a.DB.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed", slog.Int("tables", len(model.All())))
	return nil
}
