package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore(&Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestNewStore(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewStore(nil, nil)
		assert.Error(t, err)
	})

	t.Run("fails when redis is unreachable", func(t *testing.T) {
		_, err := NewStore(&Config{Address: "localhost:1"}, nil)
		assert.Error(t, err)
	})

	t.Run("connects with defaults filled in", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		store, err := NewStore(config, nil)
		require.NoError(t, err)
		defer store.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NoError(t, store.Health())
	})
}

func TestStoreSetGet(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	type doctor struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	t.Run("round trips a struct", func(t *testing.T) {
		store.Set(ctx, "doctors:3", []doctor{{ID: 7, Name: "Ana"}}, time.Minute)

		var got []doctor
		found := store.Get(ctx, "doctors:3", &got)
		assert.True(t, found)
		require.Len(t, got, 1)
		assert.Equal(t, 7, got[0].ID)
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		var got []doctor
		assert.False(t, store.Get(ctx, "doctors:999", &got))
	})

	t.Run("entries expire", func(t *testing.T) {
		store.Set(ctx, "short-lived", "value", time.Second)
		mr.FastForward(2 * time.Second)

		var got string
		assert.False(t, store.Get(ctx, "short-lived", &got))
	})

	t.Run("evicts corrupt entries", func(t *testing.T) {
		require.NoError(t, mr.Set(valuePrefix+"corrupt", "{not-json"))

		var got []doctor
		assert.False(t, store.Get(ctx, "corrupt", &got))
		assert.False(t, mr.Exists(valuePrefix+"corrupt"))
	})
}

func TestStoreGetRaw(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"appointmentId":42}`)
	store.Set(ctx, "idempotency:req-1", payload, time.Hour)

	got, found := store.GetRaw(ctx, "idempotency:req-1")
	assert.True(t, found)
	assert.Equal(t, payload, got)

	_, found = store.GetRaw(ctx, "idempotency:req-2")
	assert.False(t, found)
}

func TestStoreDelete(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "specialties:all", "payload", time.Minute)
	store.Delete(ctx, "specialties:all")

	var got string
	assert.False(t, store.Get(ctx, "specialties:all", &got))
	assert.False(t, mr.Exists(hitsPrefix+"specialties:all"))
}

func TestStoreStats(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	t.Run("empty cache", func(t *testing.T) {
		stats := store.Stats(ctx)
		assert.Equal(t, 0, stats.TotalEntries)
		assert.Equal(t, int64(0), stats.TotalHits)
		assert.Equal(t, 0.0, stats.AverageHitsPerEntry)
	})

	t.Run("counts entries and hits", func(t *testing.T) {
		store.Set(ctx, "a", 1, time.Minute)
		store.Set(ctx, "b", 2, time.Minute)

		var got int
		for i := 0; i < 3; i++ {
			require.True(t, store.Get(ctx, "a", &got))
		}
		require.True(t, store.Get(ctx, "b", &got))

		stats := store.Stats(ctx)
		assert.Equal(t, 2, stats.TotalEntries)
		assert.Equal(t, int64(4), stats.TotalHits)
		assert.Equal(t, 2.0, stats.AverageHitsPerEntry)
	})

	t.Run("set resets hit counter", func(t *testing.T) {
		store.Set(ctx, "a", 99, time.Minute)

		stats := store.Stats(ctx)
		assert.Equal(t, int64(1), stats.TotalHits)
	})
}
