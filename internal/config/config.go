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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScourtConfig configures the scraping service client.
type ScourtConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AlimTalkConfig holds the messaging provider credentials.
type AlimTalkConfig struct {
	APIURL    string
	AppKey    string
	SecretKey string
	SenderKey string
}

// NotifyConfig controls who is notified and how.
type NotifyConfig struct {
	Enabled        bool
	HistoryDigest  bool
	IncludeClients bool
	FirmAllowlist  []int64
}

// PipelineConfig tunes the sync loop.
type PipelineConfig struct {
	PageSize  int
	CaseDelay time.Duration
}

// SchedulerConfig holds the cron triggers.
type SchedulerConfig struct {
	Schedules []string
	Timezone  string
}

// RedisConfig configures the run lock and the event queue.
type RedisConfig struct {
	URL         string
	EventsQueue string // empty disables event publishing
	LockKey     string
	LockTTL     time.Duration
}

// Config holds all configuration for the case sync service.
type Config struct {
	DatabaseURL string
	Scourt      ScourtConfig
	AlimTalk    AlimTalkConfig
	Notify      NotifyConfig
	Pipeline    PipelineConfig
	Scheduler   SchedulerConfig
	Redis       RedisConfig

	// Server (health check only)
	Port     int
	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Scourt struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"scourt"`
	AlimTalk struct {
		APIURL    string `yaml:"api_url"`
		AppKey    string `yaml:"app_key"`
		SecretKey string `yaml:"secret_key"`
		SenderKey string `yaml:"sender_key"`
	} `yaml:"alimtalk"`
	Notify struct {
		Enabled        *bool   `yaml:"enabled"`
		HistoryDigest  *bool   `yaml:"history_digest"`
		IncludeClients bool    `yaml:"include_clients"`
		FirmAllowlist  []int64 `yaml:"firm_allowlist"`
	} `yaml:"notify"`
	Pipeline struct {
		PageSize  int    `yaml:"page_size"`
		CaseDelay string `yaml:"case_delay"`
	} `yaml:"pipeline"`
	Scheduler struct {
		Schedules []string `yaml:"schedules"`
		Timezone  string   `yaml:"timezone"`
	} `yaml:"scheduler"`
	Redis struct {
		URL         string `yaml:"url"`
		EventsQueue string `yaml:"events_queue"`
		LockKey     string `yaml:"lock_key"`
		LockTTL     string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads configuration from the file named by CONFIG_PATH (default
// config.yaml) and applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "config.yaml"))
}

// LoadFile reads configuration from path, expanding ${VAR} references.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	timeout, err := parseDuration("scourt.timeout", raw.Scourt.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	caseDelay, err := parseDuration("pipeline.case_delay", raw.Pipeline.CaseDelay, 0)
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration("redis.lock_ttl", raw.Redis.LockTTL, 6*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(os.Getenv("DATABASE_URL"), raw.Database.URL),
		Scourt: ScourtConfig{
			BaseURL: firstNonEmpty(raw.Scourt.BaseURL, "https://test.legalmonster.co.kr/parse_case"),
			Timeout: timeout,
		},
		AlimTalk: AlimTalkConfig{
			APIURL:    raw.AlimTalk.APIURL,
			AppKey:    raw.AlimTalk.AppKey,
			SecretKey: firstNonEmpty(os.Getenv("ALIMTALK_SECRET_KEY"), raw.AlimTalk.SecretKey),
			SenderKey: raw.AlimTalk.SenderKey,
		},
		Notify: NotifyConfig{
			Enabled:        boolOrDefault(raw.Notify.Enabled, true),
			HistoryDigest:  boolOrDefault(raw.Notify.HistoryDigest, true),
			IncludeClients: raw.Notify.IncludeClients,
			FirmAllowlist:  raw.Notify.FirmAllowlist,
		},
		Pipeline: PipelineConfig{
			PageSize:  raw.Pipeline.PageSize,
			CaseDelay: caseDelay,
		},
		Scheduler: SchedulerConfig{
			Schedules: raw.Scheduler.Schedules,
			Timezone:  firstNonEmpty(raw.Scheduler.Timezone, "Asia/Seoul"),
		},
		Redis: RedisConfig{
			URL:         firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL, "redis://localhost:6379/0"),
			EventsQueue: raw.Redis.EventsQueue,
			LockKey:     firstNonEmpty(raw.Redis.LockKey, "casesync:run-lock"),
			LockTTL:     lockTTL,
		},
		Port:     envOrDefaultInt("PORT", 8080),
		LogLevel: ParseLevel(firstNonEmpty(os.Getenv("LOG_LEVEL"), raw.Log.Level)),
	}

	if cfg.Pipeline.PageSize <= 0 {
		cfg.Pipeline.PageSize = 10
	}
	if len(cfg.Scheduler.Schedules) == 0 {
		cfg.Scheduler.Schedules = []string{"0 10 * * *"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database.url (or DATABASE_URL) is required"))
	}
	if c.Notify.Enabled {
		a := c.AlimTalk
		if a.APIURL == "" || a.AppKey == "" || a.SecretKey == "" || a.SenderKey == "" {
			errs = append(errs, errors.New("alimtalk api_url, app_key, secret_key and sender_key are required when notify.enabled is true"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
