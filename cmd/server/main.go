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

// Court case sync service
//
// Entry point for the long-running service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis and applies migrations
//  3. Schedules the case sync on its cron triggers
//  4. Serves health, ping, and run-control endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT, letting the case in
//     progress finish
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lemon/casesync/internal/app"
	"github.com/lemon/casesync/internal/config"
	"github.com/lemon/casesync/internal/httpapi"
	"github.com/lemon/casesync/internal/pipeline"
	"github.com/lemon/casesync/internal/scheduler"
)

func main() {
	app.SetupLogging(slog.LevelInfo)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg.LogLevel)

	slog.Info("starting case sync service",
		"schedules", cfg.Scheduler.Schedules,
		"timezone", cfg.Scheduler.Timezone,
		"page_size", cfg.Pipeline.PageSize,
		"notify", cfg.Notify.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connections and pipeline ---
	a, err := app.New(ctx, cfg, pipeline.MethodScheduler)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.DB.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// --- Scheduler ---
	sched, err := scheduler.New(scheduler.Config{
		Job:       a.Runner,
		Schedules: cfg.Scheduler.Schedules,
		Timezone:  cfg.Scheduler.Timezone,
	})
	if err != nil {
		slog.Error("failed to configure scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// --- HTTP ---
	handler := httpapi.NewHandler(a.HealthChecks(), sched)
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	ready, err := httpapi.Serve(serveCtx, cfg.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig, "state", sched.State().String())

	// Wait for the case in progress, bounded so a hung upstream cannot
	// hold the process forever.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		slog.Error("scheduler did not stop cleanly", "error", err)
	}

	stopServing()
	cancel()
	slog.Info("case sync service stopped")
}
