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

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lemon/casesync/internal/pipeline"
)

// blockingJob blocks until its context is cancelled or release is closed.
type blockingJob struct {
	started   chan struct{}
	release   chan struct{}
	cancelled chan bool
}

func newBlockingJob() *blockingJob {
	return &blockingJob{
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
		cancelled: make(chan bool, 1),
	}
}

func (j *blockingJob) Run(ctx context.Context) (*pipeline.RunSummary, error) {
	j.started <- struct{}{}
	select {
	case <-ctx.Done():
		j.cancelled <- true
	case <-j.release:
		j.cancelled <- false
	}
	return &pipeline.RunSummary{RunID: "test"}, nil
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no job", Config{}},
		{"bad spec", Config{Job: newBlockingJob(), Schedules: []string{"every morning"}}},
		{"bad zone", Config{Job: newBlockingJob(), Timezone: "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// TestScheduler_RunStates verifies Idle -> Running -> Idle around a run.
func TestScheduler_RunStates(t *testing.T) {
	job := newBlockingJob()
	s, err := New(Config{Job: job})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if s.State() != StateIdle {
		t.Fatalf("state = %s, want idle", s.State())
	}

	done := make(chan struct{})
	go func() {
		s.runOnce()
		close(done)
	}()

	<-job.started
	if s.State() != StateRunning {
		t.Errorf("state = %s, want running", s.State())
	}

	// A second trigger while running is skipped.
	s.runOnce()

	close(job.release)
	<-done
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if <-job.cancelled {
		t.Error("run was cancelled")
	}
	if last := s.LastRun(); last == nil || last.RunID != "test" {
		t.Errorf("LastRun() = %+v", last)
	}
}

// TestScheduler_StopDuringRun verifies Running -> Stopping -> Stopped and
// that the run sees the cancellation.
func TestScheduler_StopDuringRun(t *testing.T) {
	job := newBlockingJob()
	s, err := New(Config{Job: job})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.runOnce()
		close(done)
	}()
	<-job.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done

	if !<-job.cancelled {
		t.Error("run did not see cancellation")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}

	// Triggers after stop do nothing.
	s.runOnce()
	select {
	case <-job.started:
		t.Error("job ran after stop")
	default:
	}
}

// slowStopJob takes a while to wind down after cancellation, like a run
// finishing its in-flight case.
type slowStopJob struct {
	started  chan struct{}
	finished atomic.Bool
}

func (j *slowStopJob) Run(ctx context.Context) (*pipeline.RunSummary, error) {
	j.started <- struct{}{}
	<-ctx.Done()
	time.Sleep(300 * time.Millisecond)
	j.finished.Store(true)
	return &pipeline.RunSummary{RunID: "triggered", Cancelled: true}, nil
}

// TestScheduler_StopWaitsForTriggeredRun verifies Stop does not return
// while a run started by Trigger is still finishing.
func TestScheduler_StopWaitsForTriggeredRun(t *testing.T) {
	job := &slowStopJob{started: make(chan struct{}, 1)}
	s, err := New(Config{Job: job})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	if !s.Trigger() {
		t.Fatal("Trigger() = false on an idle scheduler")
	}
	<-job.started
	if s.Trigger() {
		t.Error("Trigger() = true while a run is in progress")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !job.finished.Load() {
		t.Error("Stop returned before the triggered run finished")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	if last := s.LastRun(); last == nil || last.RunID != "triggered" {
		t.Errorf("LastRun() = %+v", last)
	}
	if s.Trigger() {
		t.Error("Trigger() = true after Stop")
	}
}

// TestScheduler_StopTimeout verifies Stop gives up when ctx expires first.
func TestScheduler_StopTimeout(t *testing.T) {
	job := &slowStopJob{started: make(chan struct{}, 1)}
	s, err := New(Config{Job: job})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	s.Trigger()
	<-job.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Error("expected timeout error")
	}
	if job.finished.Load() {
		t.Error("run finished before the timeout")
	}
}
