package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
)

// StoreConfig configures the durable store pool and the cache client.
type StoreConfig struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RedisURL        string
	PingTimeout     time.Duration
}

// Stores holds the process-wide store connections. It is built once at
// startup and released with Close at shutdown.
type Stores struct {
	DB    *sql.DB
	Cache *goredis.Client
}

// Open connects both stores and verifies they answer.
func Open(ctx context.Context, cfg StoreConfig) (*Stores, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("stores: database url required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("stores: redis url required")
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("stores: db open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stores: db ping: %w", err)
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stores: redis url: %w", err)
	}
	cache := goredis.NewClient(opts)
	if err := cache.Ping(pingCtx).Err(); err != nil {
		_ = cache.Close()
		_ = db.Close()
		return nil, fmt.Errorf("stores: redis ping: %w", err)
	}
	return &Stores{DB: db, Cache: cache}, nil
}

// Close releases both connections.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stores: redis close: %w", err))
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stores: db close: %w", err))
		}
	}
	return errors.Join(errs...)
}
