package db_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"rebate/internal/config"
	"rebate/internal/infra"
)

var Module = fx.Provide(
	provideDB)

func provideDB(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := infra.InitPostgresql(infra.PostgresOptions{
		DSN:         cfg.Database.URL,
		AutoMigrate: cfg.Database.AutoMigrate,
		MaxOpen:     20,
		MaxIdle:     5,
	}, log.Named("postgres"))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			infra.ClosePostgresql(db, log.Named("postgres"))
			return nil
		},
	})
	return db, nil
}
