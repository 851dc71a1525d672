package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	pingTimeout     = 5 * time.Second
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// Postgres wraps DB connectivity. Snapshot claims hold a row lock for the
// whole processing step, so the pool must allow one connection per worker
// plus readers.
type Postgres struct {
	DB *gorm.DB
}

// Migrator creates the tables owned by one adapter.
type Migrator func(db *gorm.DB) error

func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Migrate runs every migrator in order and stops at the first failure.
func (p *Postgres) Migrate(logger *slog.Logger, migrators ...Migrator) error {
	if p == nil || p.DB == nil {
		return errors.New("postgres is not connected")
	}
	for i, migrate := range migrators {
		if err := migrate(p.DB); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if logger != nil {
		logger.Info("postgres schema migrated",
			"event", "postgres_schema_migrated",
			"module", "internal/platform/db",
			"layer", "platform",
			"migrations", len(migrators),
		)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
