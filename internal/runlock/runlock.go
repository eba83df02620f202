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

// Package runlock provides a Redis lock that keeps two processes from
// syncing cases at the same time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block other runs.
	DefaultTTL = 6 * time.Hour

	// DefaultKey is the lock key for the case sync run.
	DefaultKey = "casesync:run-lock"

	releaseTimeout = 2 * time.Second
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("run lock held by another process")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-holder lock on one Redis key.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New creates a lock on key. A zero ttl uses DefaultTTL.
func New(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryLock acquires the lock without waiting. On success the returned
// function releases it.
func (l *Lock) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("run lock SETNX: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	slog.Debug("run lock acquired", "key", l.key, "ttl", l.ttl)
	return func() { l.release(token) }, nil
}

func (l *Lock) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int()
	if err != nil {
		slog.Warn("failed to release run lock", "key", l.key, "error", err)
		return
	}
	if n == 0 {
		slog.Warn("run lock expired before release", "key", l.key)
	}
}
