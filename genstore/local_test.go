package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "b"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SnapshotMany(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 0 || got["b"] != 2 || got["c"] != 0 || len(got) != 3 {
		t.Fatalf("got=%v want a=0,b=2,c=0", got)
	}
}

func TestLocalBumpIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()

	if g, _ := s.Snapshot(ctx, "k"); g != n {
		t.Fatalf("expected %d, got %d", n, g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Bump(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(10 * time.Millisecond)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "new"); g != 1 {
		t.Fatalf("recent key should survive cleanup, got %d", g)
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
