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

// Package scheduler triggers case sync runs on wall-clock cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lemon/casesync/internal/pipeline"
)

// DefaultSchedule runs the sync every day at 10:00.
const DefaultSchedule = "0 10 * * *"

// DefaultTimezone is the zone the court portal and the firms operate in.
const DefaultTimezone = "Asia/Seoul"

// State is the lifecycle state of the scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job is one sync run.
type Job interface {
	Run(ctx context.Context) (*pipeline.RunSummary, error)
}

// Config holds the parameters for creating a Scheduler.
type Config struct {
	Job       Job
	Schedules []string // standard 5-field cron specs, defaults to DefaultSchedule
	Timezone  string   // IANA zone name, defaults to DefaultTimezone
}

// Scheduler owns the cron loop and the state of the current run.
type Scheduler struct {
	job  Job
	cron *cron.Cron

	mu      sync.Mutex
	state   State
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun *pipeline.RunSummary

	triggered sync.WaitGroup // runs started by Trigger
}

// New validates the schedules and creates a stopped-until-Start scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	if len(cfg.Schedules) == 0 {
		cfg.Schedules = []string{DefaultSchedule}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	logger := cronLogger{}
	s := &Scheduler{job: cfg.Job}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, spec := range cfg.Schedules {
		if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
			return nil, fmt.Errorf("add schedule %q: %w", spec, err)
		}
	}

	slog.Info("scheduler configured", "schedules", cfg.Schedules, "timezone", cfg.Timezone)
	return s, nil
}

// Start begins firing schedules. Runs are cancelled when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateIdle
	s.mu.Unlock()

	s.cron.Start()
	for _, e := range s.cron.Entries() {
		slog.Info("sync scheduled", "next", e.Next)
	}
}

// Stop asks a run in progress to finish its current case, stops the
// schedules, and waits for scheduled and triggered runs to return or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateStopping
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	triggeredDone := make(chan struct{})
	go func() {
		s.triggered.Wait()
		close(triggeredDone)
	}()

	for _, done := range []<-chan struct{}{cronDone.Done(), triggeredDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for run to stop: %w", ctx.Err())
		}
	}

	s.setState(StateStopped)
	slog.Info("scheduler stopped")
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastRun returns the summary of the most recent completed run, or nil.
func (s *Scheduler) LastRun() *pipeline.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Trigger starts a run outside the schedule. It reports false if a run is
// already in progress or the scheduler is not accepting runs.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	if s.state != StateIdle || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.triggered.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.triggered.Done()
		s.runOnce()
	}()
	return true
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// runOnce is the cron job body.
func (s *Scheduler) runOnce() {
	s.mu.Lock()
	if s.state != StateIdle || s.ctx == nil {
		slog.Warn("scheduled run skipped", "state", s.state.String())
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	ctx := s.ctx
	s.mu.Unlock()

	summary, err := s.job.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrLocked), errors.Is(err, pipeline.ErrAlreadyRunning):
		slog.Warn("scheduled run skipped", "reason", err)
	case err != nil:
		slog.Error("scheduled run failed", "error", err)
	default:
		slog.Info("scheduled run complete",
			"run_id", summary.RunID,
			"updated", summary.Updated,
			"failed", summary.Failed,
			"elapsed", summary.Elapsed,
		)
	}

	s.mu.Lock()
	if summary != nil {
		s.lastRun = summary
	}
	if s.state == StateRunning {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// cronLogger routes cron's logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
