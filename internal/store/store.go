// Package store persists canonical trades and candles in Postgres. Every
// write is an idempotent upsert keyed by a deterministic id, so duplicate
// delivery after a reconnect is harmless.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tradeflow/config"
	"tradeflow/internal/model"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Store wraps a Postgres connection pool. Safe for concurrent use by all
// pipelines; gorm serializes nothing across callers.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres using the provided options.
func Open(cfg config.PostgresConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate creates or updates the trades and candles tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&model.Trade{}, &model.Candle{})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertTrade inserts a trade; a trade whose id already exists is a no-op,
// not an error.
func (s *Store) UpsertTrade(ctx context.Context, t *model.Trade) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(t).Error
}

// UpsertCandle writes a candle bucket with a monotonic merge so a resumed
// flush converges on the correct aggregate instead of double-counting:
// high only grows, low only shrinks, close/volume/trade_count take the
// latest in-memory aggregate.
func (s *Store) UpsertCandle(ctx context.Context, c *model.Candle) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"high":        gorm.Expr("GREATEST(candles.high, EXCLUDED.high)"),
				"low":         gorm.Expr("LEAST(candles.low, EXCLUDED.low)"),
				"close":       gorm.Expr("EXCLUDED.close"),
				"volume":      gorm.Expr("EXCLUDED.volume"),
				"trade_count": gorm.Expr("EXCLUDED.trade_count"),
			}),
		}).
		Create(c).Error
}

// MergeCandle applies the upsert merge semantics in memory. The store's SQL
// expressions mirror this; tests assert against the pure form.
func MergeCandle(existing, incoming model.Candle) model.Candle {
	merged := existing
	if incoming.High > merged.High {
		merged.High = incoming.High
	}
	if incoming.Low < merged.Low {
		merged.Low = incoming.Low
	}
	merged.Close = incoming.Close
	merged.Volume = incoming.Volume
	merged.TradeCount = incoming.TradeCount
	return merged
}

func dsn(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = defaultSSLMode
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", url.QueryEscape(cfg.Password)))
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", cfg.Database))
	}
	return strings.Join(parts, " ")
}
