// Package db — подключение к PostgreSQL через pgxpool.
// Пул создаётся один раз на старте; search_path фиксируется на схему воркера,
// чтобы SQL в слое store не таскал префиксы. Первый пинг выполняется с
// экспоненциальным backoff: база может подниматься параллельно с воркером.
package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"schedule-worker/internal/infra/logger"

	"go.uber.org/zap"
)

// pingMaxElapsed ограничивает суммарное время попыток первого пинга.
const pingMaxElapsed = 30 * time.Second

// Connect создаёт пул соединений и дожидается живого подключения.
// Схема schema становится search_path всех соединений пула.
func Connect(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = pingMaxElapsed
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Debug("db ping failed, retrying",
				zap.Int("attempt", attempt), zap.Error(pingErr))
			return pingErr
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	logger.Info("database connected", zap.String("schema", schema))
	return pool, nil
}
