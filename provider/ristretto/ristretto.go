package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/deltacache/provider"
)

// record is what ristretto actually stores. Keeping the key and the window
// next to the value lets a hit re-arm a sliding TTL and lets evictions prune
// the key index.
type record struct {
	key     string
	val     []byte
	cost    int64
	sliding time.Duration
}

// Provider keeps values in a ristretto cache. Ristretto hashes keys, so a
// side index of live keys serves the pattern operations.
type Provider struct {
	c *rc.Cache

	mu  sync.Mutex
	idx map[string]*record
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (deltacache passes the envelope size per Set).
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{idx: make(map[string]*record)}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		OnEvict:     func(it *rc.Item) { p.forget(it.Value) },
		OnReject:    func(it *rc.Item) { p.forget(it.Value) },
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	rec, ok := p.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if rec.sliding > 0 {
		p.c.SetWithTTL(key, rec, rec.cost, rec.sliding)
		p.c.Wait()
	}
	return rec.val, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, exp pr.Expiration) (bool, error) {
	ttl, ok := exp.TTL(time.Now())
	if !ok {
		p.remove(key)
		return true, nil
	}
	rec := &record{key: key, val: append([]byte(nil), value...), cost: cost}
	if exp.IsSliding() {
		rec.sliding = exp.Sliding
	}

	p.mu.Lock()
	p.idx[key] = rec
	p.mu.Unlock()

	if !p.c.SetWithTTL(key, rec, cost, ttl) {
		p.forget(rec)
		return false, nil
	}
	// make the write visible to the next Get
	p.c.Wait()
	return true, nil
}

func (p *Provider) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		p.remove(k)
	}
	return nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	_, ok := p.lookup(key)
	return ok, nil
}

func (p *Provider) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for _, k := range p.indexed(pattern) {
		if _, ok := p.lookup(k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (p *Provider) DelByPattern(_ context.Context, pattern string) (int, error) {
	n := 0
	for _, k := range p.indexed(pattern) {
		if _, ok := p.lookup(k); ok {
			n++
		}
		p.remove(k)
	}
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Helper to expose metrics if desired by the application (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }

func (p *Provider) lookup(key string) (*record, bool) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false
	}
	rec, _ := v.(*record)
	if rec == nil || rec.key != key {
		// self-heal: drop unexpected entry shape or hash collision
		p.c.Del(key)
		return nil, false
	}
	return rec, true
}

func (p *Provider) remove(key string) {
	p.mu.Lock()
	delete(p.idx, key)
	p.mu.Unlock()
	p.c.Del(key)
	p.c.Wait()
}

// forget drops v from the index unless a newer record replaced it.
func (p *Provider) forget(v any) {
	rec, _ := v.(*record)
	if rec == nil {
		return
	}
	p.mu.Lock()
	if p.idx[rec.key] == rec {
		delete(p.idx, rec.key)
	}
	p.mu.Unlock()
}

func (p *Provider) indexed(pattern string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k := range p.idx {
		if strings.Contains(k, pattern) {
			out = append(out, k)
		}
	}
	return out
}
