package bigcache

import (
	"context"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/deltacache/provider"
)

// Provider keeps values in a bigcache shard set. Entries live for the global
// LifeWindow; per-entry sliding windows and deadlines are not supported, except
// that a deadline already in the past removes the key.
type Provider struct {
	c *bc.BigCache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, exp pr.Expiration) (bool, error) {
	if _, ok := exp.TTL(time.Now()); !ok {
		return true, p.Del(ctx, key)
	}
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		if err := p.c.Delete(k); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return err
		}
	}
	return nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	_, ok, err := p.Get(context.Background(), key)
	return ok, err
}

func (p *Provider) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	it := p.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			// entry removed while iterating
			continue
		}
		if k := e.Key(); strings.Contains(k, pattern) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (p *Provider) DelByPattern(ctx context.Context, pattern string) (int, error) {
	found, err := p.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range found {
		err := p.c.Delete(k)
		switch {
		case err == nil:
			n++
		case errors.Is(err, bc.ErrEntryNotFound):
		default:
			return n, err
		}
	}
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
