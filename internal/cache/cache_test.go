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

func TestKey_DeterministicRegardlessOfExtrasOrder(t *testing.T) {
	k1 := Key("hello", "gemini-pro", 0.2, map[string]interface{}{"a": 1, "b": 2})
	k2 := Key("hello", "gemini-pro", 0.2, map[string]interface{}{"b": 2, "a": 1})
	if k1 != k2 {
		t.Errorf("expected key derivation to be order-independent, got %q vs %q", k1, k2)
	}
}

func TestKey_DiffersOnAnyField(t *testing.T) {
	base := Key("hello", "gemini-pro", 0.2, nil)
	if Key("hello world", "gemini-pro", 0.2, nil) == base {
		t.Error("expected different prompt to change key")
	}
	if Key("hello", "claude-3", 0.2, nil) == base {
		t.Error("expected different model to change key")
	}
	if Key("hello", "gemini-pro", 0.5, nil) == base {
		t.Error("expected different temperature to change key")
	}
}

func TestMemoryCache_SetGetRoundTrip(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()
	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}
}

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()
	_ = c.Set(ctx, "k1", []byte("v1"), -time.Second)
	_, ok, _ := c.Get(ctx, "k1")
	if ok {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	_ = c.Set(ctx, "a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "b", []byte("2"), time.Minute)
	// touch "a" so "b" becomes least recently used
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", []byte("3"), time.Minute)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted as least recently used")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Error("expected a to survive eviction")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestMemoryCache_ClearNamespace(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()
	xKey := NamespacedKey(NamespaceStandards, "x")
	yKey := NamespacedKey(NamespaceLLMResponse, "y")
	_ = c.Set(ctx, xKey, []byte("1"), time.Minute)
	_ = c.Set(ctx, yKey, []byte("2"), time.Minute)

	if err := c.ClearNamespace(ctx, NamespaceStandards); err != nil {
		t.Fatalf("clear namespace: %v", err)
	}
	if _, ok, _ := c.Get(ctx, xKey); ok {
		t.Error("expected x removed")
	}
	if _, ok, _ := c.Get(ctx, yKey); !ok {
		t.Error("expected y to remain")
	}
}

func TestMemoryCache_StatsHitRate(t *testing.T) {
	c := NewMemoryCache(10)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	snap := c.Stats()
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Errorf("expected 1 hit 1 miss, got %+v", snap)
	}
	if snap.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", snap.HitRate)
	}
}

func TestRedisCache_SetGetRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", string(got))
}

func TestRedisCache_GetMissReturnsFalse(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)

	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_DeleteRemovesKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultTTL_PerNamespace(t *testing.T) {
	cases := map[Namespace]time.Duration{
		NamespaceAuditResult:   time.Hour,
		NamespaceStandards:     24 * time.Hour,
		NamespaceLLMResponse:   2 * time.Hour,
		NamespaceProjectConfig: 30 * time.Minute,
		NamespaceStatistics:    5 * time.Minute,
		NamespaceHealthProbe:   30 * time.Second,
	}
	for ns, want := range cases {
		if got := DefaultTTL(ns); got != want {
			t.Errorf("%s: expected %v, got %v", ns, want, got)
		}
	}
}
