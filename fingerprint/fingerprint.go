// Package fingerprint provides freshness oracles for deltacache.
//
// A fingerprint is an opaque string summarizing the state of the data behind a
// cache key. Equal fingerprints mean the cached list needs no refresh; any
// difference triggers exactly one delta load. What backs the string is the
// caller's choice:
//
//   - Interval: a time bucket. Staleness is bounded by the interval and the
//     source is never consulted.
//   - Generations: a per-key version counter bumped by writers. Staleness is
//     bounded by how soon writers call Touch after a change.
//   - Static: never stale; only explicit invalidation reloads.
//
// Combine mixes several of them.
package fingerprint

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/deltacache/genstore"
)

// Func computes the current fingerprint of key.
type Func func(ctx context.Context, key string) (string, error)

// Static returns a Func that always reports v.
func Static(v string) Func {
	return func(context.Context, string) (string, error) { return v, nil }
}

// Interval returns a Func whose value changes once every d, so a list is
// refreshed by delta at most once per interval. now defaults to time.Now.
func Interval(d time.Duration, now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	if d <= 0 {
		d = time.Minute
	}
	return func(context.Context, string) (string, error) {
		return strconv.FormatInt(now().UnixNano()/int64(d), 36), nil
	}
}

// Combine joins the fingerprints of fns. The result changes when any part does.
// The first error wins.
func Combine(fns ...Func) Func {
	return func(ctx context.Context, key string) (string, error) {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			p, err := fn(ctx, key)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		return strings.Join(parts, "|"), nil
	}
}

// Generations adapts a GenStore. Writers call Touch after changing the data
// behind a key; readers use Func as the oracle.
type Generations struct {
	store genstore.GenStore
}

func NewGenerations(store genstore.GenStore) *Generations {
	return &Generations{store: store}
}

// Func reports the key's generation as a decimal string.
func (g *Generations) Func() Func {
	return func(ctx context.Context, key string) (string, error) {
		n, err := g.store.Snapshot(ctx, key)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil
	}
}

// Touch marks key as changed and returns its new generation.
func (g *Generations) Touch(ctx context.Context, key string) (uint64, error) {
	return g.store.Bump(ctx, key)
}
