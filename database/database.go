// Package database opens the relational store and migrates the schema.
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"caff_back/logging"
)

const slowQueryThreshold = 500 * time.Millisecond

// Open connects to the database named by driver and dsn. An empty driver is
// inferred from the DSN.
func Open(driver, dsn string, logger logrus.FieldLogger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database: DATABASE_DSN is required")
	}

	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = InferDriverFromDSN(dsn)
		if driver == "" {
			return nil, errors.New("database: DATABASE_DRIVER is required when DSN does not contain a scheme")
		}
	}

	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logging.NewGormLogger(logging.Component(logger, "database"), slowQueryThreshold),
	}

	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(strings.TrimPrefix(dsn, "mysql://")), cfg)
	case "sqlite", "sqlite3":
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), cfg)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; one connection serialises access.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("database: unsupported database driver %q", driver)
	}
}

// InferDriverFromDSN guesses the driver from a DSN's scheme or file suffix.
func InferDriverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return "sqlite"
	default:
		return ""
	}
}

// Migrate creates or updates the tables for the given models.
func Migrate(db *gorm.DB, models ...any) error {
	if db == nil {
		return errors.New("database: nil handle")
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("database: migrate models: %w", err)
	}
	return nil
}
