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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadFile_Defaults verifies a minimal file picks up every default.
func TestLoadFile_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PORT", "")
	path := writeConfig(t, `
database:
  url: postgres://localhost/erp
notify:
  enabled: false
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.PageSize != 10 {
		t.Errorf("PageSize = %d, want 10", cfg.Pipeline.PageSize)
	}
	if cfg.Scourt.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Scourt.Timeout)
	}
	if cfg.Scourt.BaseURL != "https://test.legalmonster.co.kr/parse_case" {
		t.Errorf("BaseURL = %q", cfg.Scourt.BaseURL)
	}
	if len(cfg.Scheduler.Schedules) != 1 || cfg.Scheduler.Schedules[0] != "0 10 * * *" {
		t.Errorf("Schedules = %v", cfg.Scheduler.Schedules)
	}
	if cfg.Scheduler.Timezone != "Asia/Seoul" {
		t.Errorf("Timezone = %q", cfg.Scheduler.Timezone)
	}
	if !cfg.Notify.HistoryDigest {
		t.Error("HistoryDigest should default to true")
	}
	if cfg.Redis.EventsQueue != "" {
		t.Errorf("EventsQueue = %q, want disabled", cfg.Redis.EventsQueue)
	}
	if cfg.Port != 8080 || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Port = %d, LogLevel = %v", cfg.Port, cfg.LogLevel)
	}
}

// TestLoadFile_EnvOverrides verifies ${VAR} expansion and env precedence.
func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("APP_KEY", "from-env")
	t.Setenv("ALIMTALK_SECRET_KEY", "secret-env")
	t.Setenv("DATABASE_URL", "postgres://override/erp")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9090")
	path := writeConfig(t, `
database:
  url: postgres://file/erp
alimtalk:
  api_url: https://api-alimtalk.cloud.toast.com/alimtalk/v2.3
  app_key: ${APP_KEY}
  secret_key: from-file
  sender_key: sender
notify:
  include_clients: true
  firm_allowlist: [1, 14]
pipeline:
  page_size: 25
  case_delay: 2s
scheduler:
  schedules: ["0 10 * * *", "0 17 * * *"]
redis:
  url: redis://file:6379/1
  events_queue: case-events
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AlimTalk.AppKey != "from-env" {
		t.Errorf("AppKey = %q, want from-env", cfg.AlimTalk.AppKey)
	}
	if cfg.AlimTalk.SecretKey != "secret-env" {
		t.Errorf("SecretKey = %q, want secret-env", cfg.AlimTalk.SecretKey)
	}
	if cfg.DatabaseURL != "postgres://override/erp" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Redis.URL != "redis://file:6379/1" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Pipeline.PageSize != 25 || cfg.Pipeline.CaseDelay != 2*time.Second {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if len(cfg.Notify.FirmAllowlist) != 2 || cfg.Notify.FirmAllowlist[1] != 14 {
		t.Errorf("FirmAllowlist = %v", cfg.Notify.FirmAllowlist)
	}
	if !cfg.Notify.Enabled || !cfg.Notify.IncludeClients {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if len(cfg.Scheduler.Schedules) != 2 {
		t.Errorf("Schedules = %v", cfg.Scheduler.Schedules)
	}
	if cfg.Port != 9090 || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Port = %d, LogLevel = %v", cfg.Port, cfg.LogLevel)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ALIMTALK_SECRET_KEY", "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no database", "notify:\n  enabled: false\n", "database.url"},
		{"no credentials", "database:\n  url: postgres://x\n", "alimtalk"},
		{"bad duration", "database:\n  url: postgres://x\nscourt:\n  timeout: soon\n", "scourt.timeout"},
		{"bad yaml", "database: [", "parse config YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
