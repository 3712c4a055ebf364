// Package database provides the PostgreSQL client (gorm over pgx) and
// embedded schema migrations.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds database connection settings.
type Config struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sensible pool defaults for the worker
// processes.
func DefaultPoolConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Client wraps the gorm DB and exposes the raw pool for health checks
// and migrations.
type Client struct {
	*gorm.DB
	db *stdsql.DB
}

// SQLDB returns the underlying connection pool.
func (c *Client) SQLDB() *stdsql.DB {
	return c.db
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens the database, configures the pool, verifies
// connectivity, and runs pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("database: access pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("Database ready, migrations applied")

	return &Client{DB: gormDB, db: db}, nil
}

// Health reports basic pool statistics for the health endpoint.
func Health(ctx context.Context, db *stdsql.DB) (map[string]any, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return map[string]any{"status": "unreachable"}, err
	}
	stats := db.Stats()
	return map[string]any{
		"status":           "ok",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}, nil
}
