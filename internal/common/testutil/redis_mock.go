// Package testutil provides testing utilities for hrsync packages
package testutil

import (
	"path"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/openidx/hrsync/internal/common/database"
)

// MockRedis manages a miniredis instance for testing
type MockRedis struct {
	Mini   *miniredis.Miniredis
	Client *database.RedisClient
}

// NewMockRedis starts a miniredis server bound to the test lifetime
func NewMockRedis(t testing.TB) *MockRedis {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mini.Addr(),
	})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return &MockRedis{
		Mini:   mini,
		Client: &database.RedisClient{Client: client},
	}
}

// Keys returns all keys matching a glob pattern
func (m *MockRedis) Keys(pattern string) []string {
	var matched []string
	for _, k := range m.Mini.Keys() {
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	return matched
}
