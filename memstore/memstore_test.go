package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type entry struct{ v string }

func TestGetOrAddSingleFlight(t *testing.T) {
	ctx := context.Background()
	s := New[*entry]()

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (*entry, error) {
		calls.Add(1)
		<-release
		return &entry{v: "built"}, nil
	}

	const n = 32
	results := make([]*entry, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			e, err := s.GetOrAdd(ctx, "k", factory)
			if err != nil {
				t.Errorf("GetOrAdd: %v", err)
				return
			}
			results[i] = e
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if c := calls.Load(); c != 1 {
		t.Fatalf("factory called %d times, want 1", c)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different entry", i)
		}
	}
	if e, ok := s.Get("k"); !ok || e != results[0] {
		t.Fatalf("entry was not stored")
	}
}

func TestGetOrAddExistingSkipsFactory(t *testing.T) {
	s := New[*entry]()
	want := &entry{v: "pre"}
	s.Set("k", want)

	got, err := s.GetOrAdd(context.Background(), "k", func(context.Context) (*entry, error) {
		t.Fatalf("factory must not run for an existing key")
		return nil, nil
	})
	if err != nil || got != want {
		t.Fatalf("got %v err=%v", got, err)
	}
}

func TestGetOrAddErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	s := New[*entry]()
	boom := errors.New("boom")

	if _, err := s.GetOrAdd(ctx, "k", func(context.Context) (*entry, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("failed construction must not store anything")
	}

	e, err := s.GetOrAdd(ctx, "k", func(context.Context) (*entry, error) { return &entry{v: "ok"}, nil })
	if err != nil || e.v != "ok" {
		t.Fatalf("retry should succeed, got %v err=%v", e, err)
	}
}

func TestGetOrAddWaiterContextCancel(t *testing.T) {
	s := New[*entry]()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = s.GetOrAdd(context.Background(), "k", func(context.Context) (*entry, error) {
			close(started)
			<-release
			return &entry{v: "slow"}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetOrAdd(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
}

func TestGetOrAddStarterCancelDoesNotFailOthers(t *testing.T) {
	s := New[*entry]()
	release := make(chan struct{})
	started := make(chan struct{})
	actx, cancel := context.WithCancel(context.Background())

	aerr := make(chan error, 1)
	go func() {
		_, err := s.GetOrAdd(actx, "k", func(ctx context.Context) (*entry, error) {
			close(started)
			select {
			case <-release:
				return &entry{v: "built"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		aerr <- err
	}()
	<-started

	berr := make(chan error, 1)
	var got *entry
	go func() {
		e, err := s.GetOrAdd(context.Background(), "k", nil)
		got = e
		berr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-aerr; !errors.Is(err, context.Canceled) {
		t.Fatalf("starter: expected context.Canceled, got %v", err)
	}
	close(release)

	if err := <-berr; err != nil {
		t.Fatalf("waiter failed with the starter's cancellation: %v", err)
	}
	if got == nil || got.v != "built" {
		t.Fatalf("waiter got %v", got)
	}
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("entry was not stored")
	}
}

func TestGetOrAddFuncStoredCallback(t *testing.T) {
	ctx := context.Background()
	s := New[*entry]()
	var calls atomic.Int32
	stored := func(_ context.Context, e *entry) { calls.Add(1) }
	build := func(context.Context) (*entry, error) { return &entry{v: "x"}, nil }

	if _, err := s.GetOrAddFunc(ctx, "k", build, stored); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetOrAddFunc(ctx, "k", build, stored); err != nil {
		t.Fatal(err)
	}
	if c := calls.Load(); c != 1 {
		t.Fatalf("stored ran %d times, want 1", c)
	}

	// an invalidation overlapping the build skips the callback
	release, started := make(chan struct{}), make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.GetOrAddFunc(ctx, "j", func(context.Context) (*entry, error) {
			close(started)
			<-release
			return &entry{v: "late"}, nil
		}, stored)
	}()
	<-started
	s.Delete("j")
	close(release)
	<-done
	if c := calls.Load(); c != 1 {
		t.Fatalf("stored ran for a discarded build: %d", c)
	}
}

func TestDeleteDuringConstructionDoesNotResurrect(t *testing.T) {
	s := New[*entry]()
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan *entry)

	go func() {
		e, _ := s.GetOrAdd(context.Background(), "k", func(context.Context) (*entry, error) {
			close(started)
			<-release
			return &entry{v: "stale"}, nil
		})
		done <- e
	}()
	<-started
	s.Delete("k")
	close(release)

	if e := <-done; e == nil || e.v != "stale" {
		t.Fatalf("waiters still get the built entry, got %v", e)
	}
	if _, ok := s.Get("k"); ok {
		t.Fatalf("entry built across an invalidation must not be stored")
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := New[*entry]()
	a, b, c := &entry{v: "a"}, &entry{v: "b"}, &entry{v: "c"}

	if s.CompareAndSwap("k", a, b) {
		t.Fatalf("CAS on missing key must fail")
	}
	s.Set("k", a)
	if !s.CompareAndSwap("k", a, b) {
		t.Fatalf("CAS with current value must succeed")
	}
	if s.CompareAndSwap("k", a, c) {
		t.Fatalf("CAS with stale value must fail")
	}
	if e, _ := s.Get("k"); e != b {
		t.Fatalf("expected b, got %v", e)
	}
}

func TestPatternOps(t *testing.T) {
	s := New[*entry]()
	for _, k := range []string{"list:orders:eu", "list:orders:us", "list:customers:eu"} {
		s.Set(k, &entry{v: k})
	}

	keys := s.Keys(":eu")
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "list:customers:eu" || keys[1] != "list:orders:eu" {
		t.Fatalf("Keys: %v", keys)
	}
	if n := s.DeleteByPattern("orders"); n != 2 {
		t.Fatalf("DeleteByPattern removed %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 left, got %d", s.Len())
	}
	if !s.Delete("list:customers:eu") || s.Delete("list:customers:eu") {
		t.Fatalf("Delete should report presence")
	}
	s.Set("x", &entry{})
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Clear left %d entries", s.Len())
	}
}
