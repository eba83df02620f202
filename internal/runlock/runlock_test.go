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

package runlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// testClient connects to TEST_REDIS_URL or skips the test.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// TestLock_Exclusive verifies a second holder is refused until release.
func TestLock_Exclusive(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "casesync:test:" + t.Name()
	rdb.Del(ctx, key)

	a := New(rdb, key, time.Minute)
	b := New(rdb, key, time.Minute)

	release, err := a.TryLock(ctx)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	if _, err := b.TryLock(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second TryLock err = %v, want ErrHeld", err)
	}

	release()

	releaseB, err := b.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	releaseB()
}

// TestLock_ReleaseKeepsForeignToken verifies an expired holder cannot
// release a lock someone else now holds.
func TestLock_ReleaseKeepsForeignToken(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "casesync:test:" + t.Name()
	rdb.Del(ctx, key)

	l := New(rdb, key, time.Minute)
	release, err := l.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	rdb.Set(ctx, key, "someone-else", time.Minute)
	release()

	got, err := rdb.Get(ctx, key).Result()
	if err != nil || got != "someone-else" {
		t.Errorf("key = %q, %v; want someone-else", got, err)
	}
	rdb.Del(ctx, key)
}

func TestNew_Defaults(t *testing.T) {
	l := New(nil, "", 0)
	if l.key != DefaultKey || l.ttl != DefaultTTL {
		t.Errorf("New defaults = %q %v", l.key, l.ttl)
	}
}
