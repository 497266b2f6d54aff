package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisGenStore(t *testing.T, ttl time.Duration) (*RedisGenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisGenStore(RedisConfig{Client: rdb, Namespace: "orders", TTL: ttl, CloseClient: true})
	if err != nil {
		t.Fatalf("NewRedisGenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisBumpAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisGenStore(t, 0)

	if g, err := s.Snapshot(ctx, "eu"); err != nil || g != 0 {
		t.Fatalf("missing key: g=%d err=%v", g, err)
	}
	if g, err := s.Bump(ctx, "eu"); err != nil || g != 1 {
		t.Fatalf("Bump: g=%d err=%v", g, err)
	}
	if !mr.Exists("gen:orders:eu") {
		t.Fatalf("expected namespaced generation key")
	}
	got, err := s.SnapshotMany(ctx, []string{"eu", "us"})
	if err != nil {
		t.Fatal(err)
	}
	if got["eu"] != 1 || got["us"] != 0 {
		t.Fatalf("SnapshotMany: %v", got)
	}
}

func TestRedisBumpAppliesTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisGenStore(t, time.Minute)

	if _, err := s.Bump(ctx, "eu"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("gen:orders:eu"); ttl != time.Minute {
		t.Fatalf("expected 1m TTL, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if g, _ := s.Snapshot(ctx, "eu"); g != 0 {
		t.Fatalf("expired generation should read as 0, got %d", g)
	}
}

func TestRedisConfigValidation(t *testing.T) {
	if _, err := NewRedisGenStore(RedisConfig{Namespace: "x"}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewRedisGenStore(RedisConfig{Client: rdb}); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}
