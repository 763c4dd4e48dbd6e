/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedSnapshot struct {
	EntityID    string
	LastEventID int64
}

func newTestCache(t *testing.T) *RedisCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client)
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Set(ctx, "snapshot:acc1", cachedSnapshot{EntityID: "acc1", LastEventID: 42}, 10*time.Minute)
	require.NoError(t, err)

	var got cachedSnapshot
	require.NoError(t, c.Get(ctx, "snapshot:acc1", &got))
	assert.Equal(t, "acc1", got.EntityID)
	assert.Equal(t, int64(42), got.LastEventID)
}

func TestGetNonExistentKey(t *testing.T) {
	c := newTestCache(t)

	var got cachedSnapshot
	err := c.Get(context.Background(), "nonExistentKey", &got)
	assert.NoError(t, err)
	assert.Empty(t, got.EntityID)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]string{"hello": "world"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	var got map[string]string
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Empty(t, got)

	assert.NoError(t, c.Delete(ctx, "never-set"))
}
