// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app wires configuration into the Postgres pool, the Redis client,
// and a ready-to-run case sync pipeline. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lemon/casesync/internal/alimtalk"
	"github.com/lemon/casesync/internal/config"
	"github.com/lemon/casesync/internal/events"
	"github.com/lemon/casesync/internal/httpapi"
	"github.com/lemon/casesync/internal/notify"
	"github.com/lemon/casesync/internal/pipeline"
	"github.com/lemon/casesync/internal/runlock"
	"github.com/lemon/casesync/internal/scourt"
	"github.com/lemon/casesync/internal/store"
)

// SetupLogging installs the JSON slog handler as the default logger.
func SetupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// App holds the long-lived connections and the pipeline built on them.
type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	DB     *store.DB
	Redis  *redis.Client
	Runner *pipeline.Runner
}

// New connects to Postgres and Redis and builds the pipeline. method tags
// the audit rows written by the runner. Redis being unreachable is not
// fatal: the run lock fails open and event publishing errors are logged.
func New(ctx context.Context, cfg *config.Config, method string) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, continuing without run lock", "error", err)
	} else {
		slog.Info("connected to Redis")
	}

	db := store.New(pool)

	var notifier pipeline.Notifier
	dispatcherCfg := notify.Config{
		HistoryDigest: cfg.Notify.HistoryDigest,
		FirmAllowlist: cfg.Notify.FirmAllowlist,
	}
	if cfg.Notify.Enabled {
		dispatcherCfg.Sender = alimtalk.NewClient(alimtalk.ClientConfig{
			APIURL:    cfg.AlimTalk.APIURL,
			AppKey:    cfg.AlimTalk.AppKey,
			SecretKey: cfg.AlimTalk.SecretKey,
			SenderKey: cfg.AlimTalk.SenderKey,
		})
	} else {
		slog.Info("notifications disabled, messages will only be logged")
	}
	notifier = notify.NewDispatcher(dispatcherCfg)

	var publisher pipeline.EventPublisher
	if cfg.Redis.EventsQueue != "" {
		publisher = events.NewPublisher(rdb, cfg.Redis.EventsQueue)
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Open: func(ctx context.Context) (pipeline.Repository, error) {
			s, err := db.Session(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Fetcher: scourt.NewClient(scourt.ClientConfig{
			BaseURL: cfg.Scourt.BaseURL,
			Timeout: cfg.Scourt.Timeout,
		}),
		Notifier:       notifier,
		Events:         publisher,
		Lock:           runlock.New(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL),
		PageSize:       cfg.Pipeline.PageSize,
		CaseDelay:      cfg.Pipeline.CaseDelay,
		IncludeClients: cfg.Notify.IncludeClients,
		Method:         method,
	})

	return &App{
		Config: cfg,
		Pool:   pool,
		DB:     db,
		Redis:  rdb,
		Runner: runner,
	}, nil
}

// HealthChecks lists the dependencies reported by /health. Syncs run
// without Redis, so it only degrades health.
func (a *App) HealthChecks() []httpapi.Check {
	return []httpapi.Check{
		{Name: "postgres", Pinger: a.DB},
		{Name: "redis", Pinger: redisPinger{a.Redis}, Optional: true},
	}
}

// Close releases the Redis client and the pool.
func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
