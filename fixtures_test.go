package deltacache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/deltacache/provider"
)

// ==============================
// Remote tier fake
// ==============================

type memEntry struct {
	v   []byte
	exp pr.Expiration
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry

	getErr error
	setErr error
	delErr error
	reject bool

	gets   atomic.Int32
	sets   atomic.Int32
	dels   atomic.Int32
	exists atomic.Int32
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.gets.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, exp pr.Expiration) (bool, error) {
	p.sets.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return false, p.setErr
	}
	if p.reject {
		return false, nil
	}
	if _, ok := exp.TTL(time.Now()); !ok {
		delete(p.m, key)
		return true, nil
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, keys ...string) error {
	p.dels.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delErr != nil {
		return p.delErr
	}
	for _, k := range keys {
		delete(p.m, k)
	}
	return nil
}

func (p *memProvider) Exists(_ context.Context, key string) (bool, error) {
	p.exists.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok, nil
}

func (p *memProvider) Keys(_ context.Context, pattern string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k := range p.m {
		if strings.Contains(k, pattern) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *memProvider) DelByPattern(_ context.Context, pattern string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k := range p.m {
		if strings.Contains(k, pattern) {
			delete(p.m, k)
			n++
		}
	}
	return n, nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) raw(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.v, ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: v}
	p.mu.Unlock()
}

func (p *memProvider) fail(get, set, del error) {
	p.mu.Lock()
	p.getErr, p.setErr, p.delErr = get, set, del
	p.mu.Unlock()
}

// ==============================
// Entity and source fakes
// ==============================

type order struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (o *order) HasKey(x *order) bool { return o.ID == x.ID }
func (o *order) Map(x *order)         { o.Status = x.Status; o.Note = x.Note }
func (o *order) Clone() *order {
	c, err := JSONClone(o)
	if err != nil {
		panic(err)
	}
	return c
}

func (o *order) String() string { return fmt.Sprintf("%d:%s", o.ID, o.Status) }

// source is the backing store behind a list: a full list, the next delta,
// and the current fingerprint. Blocking gates let tests hold a call open.
type source struct {
	mu       sync.Mutex
	rows     []*order
	delta    []*order
	fp       string
	loadErr  error
	deltaErr error
	fpErr    error

	loadGate  chan struct{}
	deltaGate chan struct{}
	inDelta   chan struct{}

	full   atomic.Int32
	deltas atomic.Int32
	fps    atomic.Int32
	since  []time.Time
}

func newSource(fp string, rows ...*order) *source {
	return &source{fp: fp, rows: rows}
}

func (s *source) Load(ctx context.Context, _ string) ([]*order, error) {
	s.full.Add(1)
	s.mu.Lock()
	gate, err := s.loadGate, s.loadErr
	rows := make([]*order, len(s.rows))
	for i, r := range s.rows {
		rows[i] = r.Clone()
	}
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *source) LoadDelta(ctx context.Context, _ string, since, _ time.Time) ([]*order, error) {
	s.deltas.Add(1)
	s.mu.Lock()
	gate, started, err := s.deltaGate, s.inDelta, s.deltaErr
	s.since = append(s.since, since)
	delta := make([]*order, len(s.delta))
	for i, r := range s.delta {
		delta[i] = r.Clone()
	}
	s.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return delta, nil
}

func (s *source) Fingerprint(context.Context, string) (string, error) {
	s.fps.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp, s.fpErr
}

// change moves the fingerprint and sets the delta the next refresh will see.
func (s *source) change(fp string, delta ...*order) {
	s.mu.Lock()
	s.fp = fp
	s.delta = delta
	s.mu.Unlock()
}

func (s *source) set(f func(s *source)) {
	s.mu.Lock()
	f(s)
	s.mu.Unlock()
}

func (s *source) lastSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.since) == 0 {
		return time.Time{}
	}
	return s.since[len(s.since)-1]
}

// ==============================
// Clock and hooks
// ==============================

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock { return &stepClock{t: time.Unix(1700000000, 0)} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recHooks struct {
	NopHooks
	mu     sync.Mutex
	events []string
}

func (h *recHooks) add(format string, args ...any) {
	h.mu.Lock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
	h.mu.Unlock()
}

func (h *recHooks) FullLoad(ns, key string, items int, _ time.Duration) {
	h.add("full %s/%s %d", ns, key, items)
}
func (h *recHooks) RemoteHit(ns, key string) { h.add("remote %s/%s", ns, key) }
func (h *recHooks) DeltaMerged(ns, key string, delta, total int, _ time.Duration) {
	h.add("delta %s/%s %d/%d", ns, key, delta, total)
}
func (h *recHooks) RefreshFailed(ns, key, stage string, _ error) {
	h.add("refresh-failed %s/%s %s", ns, key, stage)
}
func (h *recHooks) SelfHeal(storageKey, reason string) { h.add("heal %s %s", storageKey, reason) }
func (h *recHooks) RemoteWriteFailed(storageKey string, err error) {
	h.add("write-failed %s %v", storageKey, err != nil)
}
func (h *recHooks) InvalidateOutage(keyOrPattern string, _ error) {
	h.add("outage %s", keyOrPattern)
}

func (h *recHooks) has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

// ==============================
// Constructors
// ==============================

func newTestList(t *testing.T, src *source, mp pr.Provider, optsOpt func(*ListOptions[*order])) ListCache[*order] {
	t.Helper()
	clock := newStepClock()
	opts := ListOptions[*order]{
		Namespace:   "orders",
		Load:        src.Load,
		LoadDelta:   src.LoadDelta,
		Fingerprint: src.Fingerprint,
		Clock:       clock.Now,
	}
	if mp != nil {
		opts.Provider = mp
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	lc, err := New[*order](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lc
}

func mustImpl[T Entity[T]](t *testing.T, lc ListCache[T]) *listCache[T] {
	t.Helper()
	impl, ok := lc.(*listCache[T])
	if !ok {
		t.Fatalf("unexpected concrete type for ListCache")
	}
	return impl
}

func statuses(items []*order) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, ",")
}
