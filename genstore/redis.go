package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares generations across processes and survives restarts.
// With a TTL, idle generation keys expire; an expired key reads as 0, which
// readers observe as a change and refresh once.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

type RedisConfig struct {
	Client      redis.UniversalClient
	Namespace   string
	TTL         time.Duration // 0 => generation keys never expire
	CloseClient bool          // set true only if the store exclusively owns the client
}

func NewRedisGenStore(cfg RedisConfig) (*RedisGenStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("genstore: nil redis client")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("genstore: namespace is required")
	}
	return &RedisGenStore{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, closeClient: cfg.CloseClient}, nil
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, key string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("genstore: parse %q: %w", key, err)
	}
	return u, nil
}

func (s *RedisGenStore) SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v == nil {
			out[keys[i]] = 0
			continue
		}
		u, err := strconv.ParseUint(fmt.Sprint(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("genstore: parse %q: %w", keys[i], err)
		}
		out[keys[i]] = u
	}
	return out, nil
}

// Bump increments the generation. With a TTL, INCR and EXPIRE share one round trip.
func (s *RedisGenStore) Bump(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)
	if s.ttl <= 0 {
		return s.rdb.Incr(ctx, k).Uint64()
	}
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Uint64()
}

// Cleanup is a no-op; Redis expires keys itself when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
