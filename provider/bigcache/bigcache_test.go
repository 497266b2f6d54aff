package bigcache

import (
	"context"
	"sort"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/deltacache/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{LifeWindow: time.Minute, MaxEntriesInWindow: 100, MaxEntrySize: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestRoundTripAndDelMissing(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	if _, ok, err := p.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, pr.Sliding(time.Hour)); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if got, ok, err := p.Get(ctx, "k"); err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get: %q ok=%v err=%v", got, ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("deleting a missing key must not fail: %v", err)
	}

	_, _ = p.Set(ctx, "a", []byte("1"), 1, pr.Never)
	_, _ = p.Set(ctx, "b", []byte("2"), 1, pr.Never)
	if err := p.Del(ctx, "a", "missing", "b"); err != nil {
		t.Fatalf("Del many: %v", err)
	}
	if left, _ := p.Keys(ctx, ""); len(left) != 0 {
		t.Fatalf("left after Del many: %v", left)
	}
}

func TestPastDeadlineDeletes(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	_, _ = p.Set(ctx, "k", []byte("v"), 1, pr.Never)
	if _, err := p.Set(ctx, "k", []byte("v2"), 1, pr.Until(time.Now().Add(-time.Second))); err != nil {
		t.Fatal(err)
	}
	if ex, _ := p.Exists(ctx, "k"); ex {
		t.Fatalf("expired write should remove the key")
	}
}

func TestPatternOps(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	for _, k := range []string{"list:orders:eu", "list:orders:us", "value:orders:eu"} {
		if _, err := p.Set(ctx, k, []byte("x"), 1, pr.Never); err != nil {
			t.Fatal(err)
		}
	}
	got, err := p.Keys(ctx, "orders:eu")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "list:orders:eu" || got[1] != "value:orders:eu" {
		t.Fatalf("Keys: %v", got)
	}
	if n, err := p.DelByPattern(ctx, "list:"); err != nil || n != 2 {
		t.Fatalf("DelByPattern: n=%d err=%v", n, err)
	}
	if ex, _ := p.Exists(ctx, "value:orders:eu"); !ex {
		t.Fatalf("unmatched key removed")
	}
}
