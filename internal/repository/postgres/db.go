package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jwalitptl/diagnosis-api/internal/config"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConnectWithRetry retries NewDB with exponential backoff until maxWait
// elapses, so services can start before the database is accepting
// connections.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxWait time.Duration, log *logger.Logger) (*sqlx.DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = maxWait

	var db *sqlx.DB
	err := backoff.RetryNotify(func() error {
		var err error
		db, err = NewDB(ctx, cfg)
		return err
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Warn("Database not ready, retrying", "error", err.Error(), "wait", wait.String())
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
