// Package redis is the go-redis implementation of provider.Provider.
//
// Every key is a hash: field "v" holds the value, field "s" the sliding window
// in milliseconds when there is one. Reads refresh the window in the same
// script that fetches the value, and the key never needs a companion, so the
// layout works unchanged on Redis Cluster.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/deltacache/internal/keys"
	pr "github.com/unkn0wn-root/deltacache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

var nowFunc = time.Now

const (
	defaultScanCount = 256
	defaultDelBatch  = 256
	defaultDialWait  = 5 * time.Second
)

var (
	getScript = goredis.NewScript(`
local r = redis.call('HMGET', KEYS[1], 'v', 's')
if not r[1] then return false end
if r[2] then redis.call('PEXPIRE', KEYS[1], r[2]) end
return r[1]
`)

	// ARGV: value, mode (n|s|a), ms
	setScript = goredis.NewScript(`
redis.call('DEL', KEYS[1])
if ARGV[2] == 's' then
  redis.call('HSET', KEYS[1], 'v', ARGV[1], 's', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
  redis.call('HSET', KEYS[1], 'v', ARGV[1])
  if ARGV[2] == 'a' then redis.call('PEXPIREAT', KEYS[1], ARGV[3]) end
end
return 1
`)
)

type Config struct {
	// Dial builds a client. It is called lazily for the first operation and
	// again whenever the current client hits a connection-class error.
	Dial func(ctx context.Context) (goredis.UniversalClient, error)

	// Client is used as-is when Dial is nil and is never rebuilt.
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns Client

	ScanCount int64 // SCAN COUNT hint; 0 => 256
	DelBatch  int   // UNLINKs per pipeline; 0 => 256

	// DialTimeout bounds a shared dial; 0 => 5s. The dial does not follow the
	// cancellation of the caller that triggered it.
	DialTimeout time.Duration
}

type conn struct {
	rdb   goredis.UniversalClient
	owned bool
}

type Redis struct {
	dial      func(ctx context.Context) (goredis.UniversalClient, error)
	scanCount int64
	delBatch  int
	dialWait  time.Duration

	cur    atomic.Pointer[conn]
	dials  singleflight.Group
	closed atomic.Bool
}

var _ pr.Provider = (*Redis)(nil)

func New(cfg Config) (*Redis, error) {
	if cfg.Dial == nil && cfg.Client == nil {
		return nil, ErrNilClient
	}
	p := &Redis{
		dial:      cfg.Dial,
		scanCount: cfg.ScanCount,
		delBatch:  cfg.DelBatch,
		dialWait:  cfg.DialTimeout,
	}
	if p.scanCount <= 0 {
		p.scanCount = defaultScanCount
	}
	if p.delBatch <= 0 {
		p.delBatch = defaultDelBatch
	}
	if p.dialWait <= 0 {
		p.dialWait = defaultDialWait
	}
	if cfg.Dial == nil {
		p.cur.Store(&conn{rdb: cfg.Client, owned: cfg.CloseClient})
	}
	return p, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		out []byte
		hit bool
	)
	err := p.do(ctx, func(rdb goredis.UniversalClient) error {
		s, err := getScript.Run(ctx, rdb, []string{key}).Text()
		if errors.Is(err, goredis.Nil) {
			hit = false
			return nil // miss
		}
		if err != nil {
			return err
		}
		out, hit = []byte(s), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, hit, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, exp pr.Expiration) (bool, error) {
	mode, ms := "n", int64(0)
	switch {
	case exp.IsSliding():
		mode, ms = "s", exp.Sliding.Milliseconds()
		if ms <= 0 {
			ms = 1
		}
	case !exp.At.IsZero():
		if _, ok := exp.TTL(nowFunc()); !ok {
			// deadline already passed: the key must not exist
			return true, p.Del(ctx, key)
		}
		mode, ms = "a", exp.At.UnixMilli()
	}

	err := p.do(ctx, func(rdb goredis.UniversalClient) error {
		return setScript.Run(ctx, rdb, []string{key}, value, mode, strconv.FormatInt(ms, 10)).Err()
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, ks ...string) error {
	if len(ks) == 0 {
		return nil
	}
	if len(ks) == 1 {
		return p.do(ctx, func(rdb goredis.UniversalClient) error {
			return rdb.Del(ctx, ks[0]).Err()
		})
	}
	return p.do(ctx, func(rdb goredis.UniversalClient) error {
		_, err := p.unlink(ctx, rdb, ks)
		return err
	})
}

func (p *Redis) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := p.do(ctx, func(rdb goredis.UniversalClient) error {
		var err error
		n, err = rdb.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

func (p *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := p.do(ctx, func(rdb goredis.UniversalClient) error {
		var err error
		out, err = p.scan(ctx, rdb, keys.Glob(pattern))
		return err
	})
	return out, err
}

func (p *Redis) DelByPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	err := p.do(ctx, func(rdb goredis.UniversalClient) error {
		found, err := p.scan(ctx, rdb, keys.Glob(pattern))
		if err != nil {
			return err
		}
		removed, err = p.unlink(ctx, rdb, found)
		return err
	})
	return removed, err
}

// unlink removes keys in pipelined batches and returns how many existed.
func (p *Redis) unlink(ctx context.Context, rdb goredis.UniversalClient, found []string) (int, error) {
	removed := 0
	for start := 0; start < len(found); start += p.delBatch {
		end := min(start+p.delBatch, len(found))
		// one command per key: a multi-key UNLINK would cross slots on a cluster
		cmds, err := rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, k := range found[start:end] {
				pipe.Unlink(ctx, k)
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		for _, c := range cmds {
			if ic, ok := c.(*goredis.IntCmd); ok {
				removed += int(ic.Val())
			}
		}
	}
	return removed, nil
}

// Close releases the current client when this provider owns it.
// Safe to call multiple times; operations after Close fail with ErrUnavailable.
func (p *Redis) Close(context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	c := p.cur.Swap(nil)
	if c == nil || !c.owned {
		return nil
	}
	if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

// scan collects the keys matching a glob, on every master of a cluster.
func (p *Redis) scan(ctx context.Context, rdb goredis.UniversalClient, match string) ([]string, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	scanOne := func(ctx context.Context, c goredis.Cmdable) error {
		iter := c.Scan(ctx, 0, match, p.scanCount).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		mu.Lock()
		for _, k := range batch {
			seen[k] = struct{}{}
		}
		mu.Unlock()
		return nil
	}

	var err error
	if cc, ok := rdb.(*goredis.ClusterClient); ok {
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *goredis.Client) error {
			return scanOne(ctx, c)
		})
	} else {
		err = scanOne(ctx, rdb)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}

// do runs op on the current client. A connection-class failure rebuilds the
// client once and retries op on it.
func (p *Redis) do(ctx context.Context, op func(rdb goredis.UniversalClient) error) error {
	c, err := p.conn(ctx)
	if err != nil {
		return err
	}
	err = op(c.rdb)
	if !isConnErr(err) {
		return err
	}
	if p.dial == nil {
		return fmt.Errorf("%w: %w", pr.ErrUnavailable, err)
	}

	next, rerr := p.reconnect(ctx, c)
	if rerr != nil {
		return rerr
	}
	if err = op(next.rdb); isConnErr(err) {
		return fmt.Errorf("%w: %w", pr.ErrUnavailable, err)
	}
	return err
}

func (p *Redis) conn(ctx context.Context) (*conn, error) {
	if c := p.cur.Load(); c != nil {
		return c, nil
	}
	if p.dial == nil {
		return nil, fmt.Errorf("%w: %w", pr.ErrUnavailable, goredis.ErrClosed)
	}
	return p.reconnect(ctx, nil)
}

// reconnect replaces broken with a fresh client. Concurrent callers share one
// dial; a caller that arrives after someone else already replaced broken gets
// the replacement without dialing.
func (p *Redis) reconnect(ctx context.Context, broken *conn) (*conn, error) {
	ch := p.dials.DoChan("dial", func() (any, error) {
		if p.closed.Load() {
			return nil, goredis.ErrClosed
		}
		if c := p.cur.Load(); c != nil && c != broken {
			return c, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.dialWait)
		defer cancel()
		rdb, err := p.dial(dctx)
		if err != nil {
			return nil, err
		}
		next := &conn{rdb: rdb, owned: true}
		if !p.cur.CompareAndSwap(broken, next) || p.closed.Load() {
			// closed while dialing
			p.cur.CompareAndSwap(next, nil)
			_ = rdb.Close()
			return nil, goredis.ErrClosed
		}
		if broken != nil && broken.owned {
			_ = broken.rdb.Close()
		}
		return next, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("%w: %w", pr.ErrUnavailable, r.Err)
		}
		return r.Val.(*conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isConnErr(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, goredis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
