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

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lemon/casesync/internal/pipeline"
	"github.com/lemon/casesync/internal/scheduler"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type mockRuns struct {
	state   scheduler.State
	last    *pipeline.RunSummary
	trigger bool
}

func (m *mockRuns) State() scheduler.State        { return m.state }
func (m *mockRuns) LastRun() *pipeline.RunSummary { return m.last }
func (m *mockRuns) Trigger() bool                 { return m.trigger }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// TestHandler_Health verifies a failing required dependency fails health
// and a failing optional one only degrades it.
func TestHandler_Health(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name       string
		checks     []Check
		wantStatus int
		wantBody   string
	}{
		{"healthy", []Check{{"postgres", ok, false}, {"redis", ok, true}}, http.StatusOK, "ok"},
		{"postgres down", []Check{{"postgres", down, false}, {"redis", ok, true}}, http.StatusServiceUnavailable, "postgres unhealthy"},
		{"optional down", []Check{{"postgres", ok, false}, {"redis", down, true}}, http.StatusOK, "degraded"},
		{"required after optional", []Check{{"redis", down, true}, {"postgres", down, false}}, http.StatusServiceUnavailable, "postgres unhealthy"},
		{"no checks", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.checks, nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			if body["status"] != tt.wantBody {
				t.Errorf("body = %v", body)
			}
			if tt.wantBody == "degraded" {
				if names, _ := body["degraded"].([]any); len(names) != 1 || names[0] != "redis" {
					t.Errorf("degraded = %v", body["degraded"])
				}
			}
		})
	}
}

func TestHandler_Ping(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "pong" {
		t.Errorf("body = %v", body)
	}
}

func TestHandler_Status(t *testing.T) {
	runs := &mockRuns{
		state: scheduler.StateRunning,
		last:  &pipeline.RunSummary{RunID: "r1", Updated: 2, Elapsed: 1500 * time.Millisecond},
	}
	rec := httptest.NewRecorder()
	NewHandler(nil, runs).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	body := decode(t, rec)
	if body["state"] != "running" {
		t.Errorf("state = %v", body["state"])
	}
	last, ok := body["last_run"].(map[string]any)
	if !ok {
		t.Fatalf("last_run = %v", body["last_run"])
	}
	if last["run_id"] != "r1" || last["updated"] != float64(2) || last["elapsed_ms"] != float64(1500) {
		t.Errorf("last_run = %v", last)
	}
}

func TestHandler_Trigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger bool
		want    int
	}{
		{"started", true, http.StatusAccepted},
		{"busy", false, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h := NewHandler(nil, &mockRuns{trigger: tt.trigger})
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// TestHandler_NoRuns verifies run endpoints are absent without a scheduler.
func TestHandler_NoRuns(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", rec.Code)
	}
}
