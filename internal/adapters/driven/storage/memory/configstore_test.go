package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("oauth.client_id", "ABxyz"))
	require.NoError(t, store.Set("api.max_results", int64(500)))
	require.NoError(t, store.Set("api.rate_per_second", 4.5))
	require.NoError(t, store.Set("scheduler.enabled", true))
	require.NoError(t, store.Set("oauth.scopes", []any{"a", 1, "b"}))

	assert.Equal(t, "ABxyz", store.GetString("oauth.client_id"))
	assert.Equal(t, 500, store.GetInt("api.max_results"))
	assert.Equal(t, 500.0, store.GetFloat("api.max_results"))
	assert.Equal(t, 4.5, store.GetFloat("api.rate_per_second"))
	assert.Equal(t, 4, store.GetInt("api.rate_per_second"))
	assert.True(t, store.GetBool("scheduler.enabled"))
	assert.Equal(t, []string{"a", "b"}, store.GetStringSlice("oauth.scopes"))
}

func TestConfigStore_MissingAndMistyped(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("server.addr", 8420))

	_, ok := store.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, store.GetString("server.addr"))
	assert.False(t, store.GetBool("server.addr"))
	assert.Zero(t, store.GetFloat("missing"))
	assert.Nil(t, store.GetStringSlice("server.addr"))
}

func TestConfigStore_NoOpPersistence(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("k", "v"))
	require.NoError(t, store.Save())
	require.NoError(t, store.Load())
	assert.Equal(t, "v", store.GetString("k"))
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_ConcurrentAccess(t *testing.T) {
	store := NewConfigStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.Set("windows.grace_window", n)
		}(i)
		go func() {
			defer wg.Done()
			_ = store.GetInt("windows.grace_window")
		}()
	}
	wg.Wait()

	_, ok := store.Get("windows.grace_window")
	assert.True(t, ok)
}

func TestConfigStore_SeedSnapshotReplace(t *testing.T) {
	store := NewConfigStore(
		map[string]any{"user_id": "alice", "api.max_results": 100},
		map[string]any{"user_id": "bob"},
	)
	assert.Equal(t, "bob", store.GetString("user_id"))
	assert.Equal(t, 100, store.GetInt("api.max_results"))

	snap := store.Snapshot()
	snap["user_id"] = "mallory"
	assert.Equal(t, "bob", store.GetString("user_id"))

	store.Replace(map[string]any{"grace.backend": "redis"})
	_, ok := store.Get("user_id")
	assert.False(t, ok)
	assert.Equal(t, "redis", store.GetString("grace.backend"))

	store.Replace(nil)
	require.NoError(t, store.Set("k", "v"))
	assert.Equal(t, map[string]any{"k": "v"}, store.Snapshot())
}
