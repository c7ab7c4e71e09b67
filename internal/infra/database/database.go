package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sifan077/SpeedDial/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

// Open returns a gorm.DB for the configured driver.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s connection: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: retrieve sql db: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// Every pooled connection to ":memory:" would otherwise see its own empty database.
		if cfg.Path == "" || cfg.Path == memoryPath {
			sqlDB.SetMaxOpenConns(1)
		}
	} else {
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
		}
		if cfg.MinConns > 0 {
			sqlDB.SetMaxIdleConns(int(cfg.MinConns))
		}
	}

	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		return postgres.Open(PostgresDSN(cfg)), nil
	case config.DriverMySQL:
		return mysql.Open(MySQLDSN(cfg)), nil
	case config.DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = memoryPath
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}

// AutoMigrate uses GORM to perform schema migrations for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}

	return nil
}

// Ping checks that the underlying sql.DB still answers.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: retrieve sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pooled connections behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return closeSQL(sqlDB)
}

func closeSQL(db *sql.DB) error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("database: close: %w", err)
	}
	return nil
}
