package database

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"adledger/internal/config"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

var ErrMemoryDriver = errors.New("memory driver has no SQL database")

// DSN renders the driver-specific connection string.
func DSN(cfg *config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database), nil
	case config.DriverPostgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode), nil
	case config.DriverMemory:
		return "", ErrMemoryDriver
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverPostgres {
		return postgres.Open(dsn), nil
	}
	return mysql.Open(dsn), nil
}

// Open connects, sizes the pool and, when enabled, applies migrations.
func Open(cfg *config.DatabaseConfig, logger zerolog.Logger) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger:         NewGormLogger(logger, time.Duration(cfg.SlowThreshold)*time.Millisecond),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.AutoMigrate {
		if err := Migrate(db, cfg.Driver); err != nil {
			return nil, err
		}
	}

	logger.Info().Str("driver", cfg.Driver).Str("host", cfg.Host).Msg("database connected")
	return db, nil
}

// Migrate runs the embedded goose migrations for driver.
func Migrate(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, MigrationDir(driver)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func MigrationDir(driver string) string {
	return "migrations/" + driver
}
