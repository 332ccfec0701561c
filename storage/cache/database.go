// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"strings"
	"time"

	"github.com/gorse-io/bandmate/storage"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

var ErrObjectNotExist = errors.NotFoundf("object")

// Key creates key for cache. Empty keys are skipped.
func Key(keys ...string) string {
	var builder strings.Builder
	for _, key := range keys {
		if key == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteRune('/')
		}
		builder.WriteString(key)
	}
	return builder.String()
}

// Database stores serialized values that expire after a fixed time to live.
type Database interface {
	// Get returns ErrObjectNotExist if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open creates a cache. An empty path keeps values in process memory.
func Open(path string, ttl time.Duration) (Database, error) {
	if path == "" {
		return NewMemory(ttl), nil
	}
	if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := &Redis{client: redis.NewClient(opt), ttl: ttl}
		if err = database.client.Ping(context.Background()).Err(); err != nil {
			_ = database.Close()
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.NotSupportedf("cache store %s", path)
}

// Memory is an in-process cache.
type Memory struct {
	cache *ttlcache.Cache[string, []byte]
}

func NewMemory(ttl time.Duration) *Memory {
	c := ttlcache.New(ttlcache.WithTTL[string, []byte](ttl), ttlcache.WithDisableTouchOnHit[string, []byte]())
	go c.Start()
	return &Memory{cache: c}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	item := m.cache.Get(key)
	if item == nil {
		return nil, errors.Annotate(ErrObjectNotExist, key)
	}
	return item.Value(), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.cache.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}
