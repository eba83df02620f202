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

// Package httpapi serves the health, ping, and run-control endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lemon/casesync/internal/pipeline"
	"github.com/lemon/casesync/internal/scheduler"
)

const appName = "casesync"

// Pinger is a dependency whose reachability is part of health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names a Pinger for health output. A failing optional check
// degrades health instead of failing it.
type Check struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

// Runs exposes the scheduler to the API.
type Runs interface {
	State() scheduler.State
	LastRun() *pipeline.RunSummary
	Trigger() bool
}

// Handler serves the HTTP API.
type Handler struct {
	checks []Check
	runs   Runs
}

// NewHandler creates the API handler. runs may be nil, in which case the
// run endpoints are not mounted.
func NewHandler(checks []Check, runs Runs) *Handler {
	return &Handler{checks: checks, runs: runs}
}

// Routes returns the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.serveHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.servePing)
		if h.runs != nil {
			r.Get("/status", h.serveStatus)
			r.Post("/runs", h.serveTrigger)
		}
	})
	return r
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var degraded []string
	for _, c := range h.checks {
		err := c.Pinger.Ping(ctx)
		if err == nil {
			continue
		}
		slog.Warn("health check failed", "check", c.Name, "optional", c.Optional, "error", err)
		if c.Optional {
			degraded = append(degraded, c.Name)
			continue
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": c.Name + " unhealthy",
			"app":    appName,
		})
		return
	}

	if len(degraded) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "degraded",
			"app":      appName,
			"degraded": degraded,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "app": appName})
}

func (h *Handler) servePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

type runView struct {
	RunID      string `json:"run_id"`
	Seen       int    `json:"seen"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Updated    int    `json:"updated"`
	NewHistory int    `json:"new_history"`
	NewTrials  int    `json:"new_trials"`
	Cancelled  bool   `json:"cancelled"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

func (h *Handler) serveStatus(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		State   string   `json:"state"`
		LastRun *runView `json:"last_run"`
	}{State: h.runs.State().String()}

	if s := h.runs.LastRun(); s != nil {
		body.LastRun = &runView{
			RunID:      s.RunID,
			Seen:       s.Seen,
			Skipped:    s.Skipped,
			Failed:     s.Failed,
			Updated:    s.Updated,
			NewHistory: s.NewHistory,
			NewTrials:  s.NewTrials,
			Cancelled:  s.Cancelled,
			ElapsedMS:  s.Elapsed.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) serveTrigger(w http.ResponseWriter, _ *http.Request) {
	if !h.runs.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
		return
	}
	slog.Info("run triggered over HTTP")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve binds port and serves handler until ctx is cancelled. The returned
// channel is closed once the listener is bound.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
