// Package memstore is the in-process tier: a map of entries keyed by string
// with single-flight construction.
//
// Entries are expected to be immutable values or pointers to immutable values;
// a new version is published with Set or CompareAndSwap, never by mutating
// a stored entry in place.
package memstore

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Factory builds the entry for a missing key.
type Factory[E any] func(ctx context.Context) (E, error)

// Store holds entries until they are deleted or the process exits. There is
// no eviction. Safe for concurrent use.
type Store[E comparable] struct {
	mu sync.RWMutex
	m  map[string]E
	// epoch counts invalidations; a construction that overlaps one is not stored
	epoch uint64

	sf singleflight.Group
}

func New[E comparable]() *Store[E] {
	return &Store[E]{m: make(map[string]E)}
}

func (s *Store[E]) Get(key string) (E, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	return e, ok
}

// GetOrAdd returns the entry for key, building it with factory on a miss.
// Concurrent misses for the same key share a single factory call and all
// receive its result. A failed factory stores nothing; the next call retries.
// The factory runs detached from the cancellation of the caller that started
// it, so one caller giving up does not fail the others. A caller whose ctx
// ends stops waiting and gets ctx.Err().
func (s *Store[E]) GetOrAdd(ctx context.Context, key string, factory Factory[E]) (E, error) {
	return s.GetOrAddFunc(ctx, key, factory, nil)
}

// GetOrAddFunc is GetOrAdd with a callback that runs once inside the flight,
// after the built entry was stored. It is skipped when the factory failed,
// when an invalidation overlapped the build, or when a Set won the race.
func (s *Store[E]) GetOrAddFunc(ctx context.Context, key string, factory Factory[E], stored func(ctx context.Context, e E)) (E, error) {
	if e, ok := s.Get(key); ok {
		return e, nil
	}

	ch := s.sf.DoChan(key, func() (any, error) {
		s.mu.RLock()
		if e, ok := s.m[key]; ok {
			s.mu.RUnlock()
			return e, nil
		}
		epoch := s.epoch
		s.mu.RUnlock()

		fctx := context.WithoutCancel(ctx)
		e, err := factory(fctx)
		if err != nil {
			return nil, err
		}

		added := false
		s.mu.Lock()
		if cur, ok := s.m[key]; ok {
			// published by Set while we were building
			e = cur
		} else if s.epoch == epoch {
			s.m[key] = e
			added = true
		}
		s.mu.Unlock()

		if added && stored != nil {
			stored(fctx, e)
		}
		return e, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			var zero E
			return zero, r.Err
		}
		return r.Val.(E), nil
	case <-ctx.Done():
		var zero E
		return zero, ctx.Err()
	}
}

// Set publishes e for key, replacing any previous entry.
func (s *Store[E]) Set(key string, e E) {
	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()
}

// CompareAndSwap publishes next only if the current entry for key is old.
// Returns false when the key was deleted or replaced in the meantime.
func (s *Store[E]) CompareAndSwap(key string, old, next E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	if !ok || cur != old {
		return false
	}
	s.m[key] = next
	return true
}

// Delete removes key and reports whether it was present.
func (s *Store[E]) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.m[key]
	delete(s.m, key)
	s.epoch++
	s.mu.Unlock()
	return ok
}

// DeleteByPattern removes every key containing pattern and returns the count.
func (s *Store[E]) DeleteByPattern(pattern string) int {
	s.mu.Lock()
	n := 0
	for k := range s.m {
		if strings.Contains(k, pattern) {
			delete(s.m, k)
			n++
		}
	}
	s.epoch++
	s.mu.Unlock()
	return n
}

// Keys returns every key containing pattern; "" matches all.
func (s *Store[E]) Keys(pattern string) []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.Contains(k, pattern) {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()
	return out
}

func (s *Store[E]) Len() int {
	s.mu.RLock()
	n := len(s.m)
	s.mu.RUnlock()
	return n
}

// Clear drops every entry.
func (s *Store[E]) Clear() {
	s.mu.Lock()
	clear(s.m)
	s.epoch++
	s.mu.Unlock()
}
