package infra

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"rebate/internal/models/db_models"
)

type PostgresOptions struct {
	DSN         string
	AutoMigrate bool
	MaxOpen     int
	MaxIdle     int
}

func InitPostgresql(opts PostgresOptions, log *zap.Logger) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("database.url is not set")
	}

	connectionPool, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := connectionPool.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if opts.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if opts.AutoMigrate {
		if err := Migrate(connectionPool); err != nil {
			return nil, err
		}
		log.Info("database schema migrated")
	}

	log.Info("connected to postgres")
	return connectionPool, nil
}

// Migrate creates or updates the tables. Development only; production
// schemas are managed outside the service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&db_models.ScanSession{},
		&db_models.Submission{},
		&db_models.DailyApprovalCounter{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func ClosePostgresql(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("error getting database instance", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Error("error closing database connection", zap.Error(err))
	} else {
		log.Info("postgres connection closed")
	}
}

// Ping is used by the health endpoint.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
