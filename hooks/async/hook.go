// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/deltacache"
//	asynchook "github.com/unkn0wn-root/deltacache/hooks/async"
//	"github.com/unkn0wn-root/deltacache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    DeltaMergedEvery: 100, // sample logs: ~every 100th merge
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	orders, _ := deltacache.New[*Order](deltacache.ListOptions[*Order]{
//	    Namespace:   "orders",
//	    Load:        repo.Orders,
//	    LoadDelta:   repo.OrdersChangedBetween,
//	    Fingerprint: gens.Func(),
//	    Hooks:       hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/deltacache"
)

// Hooks forwards events to inner from a bounded queue. When the queue is
// full the event is dropped and counted; the read path never blocks.
type Hooks struct {
	inner   deltacache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ deltacache.Hooks = (*Hooks)(nil)

func New(inner deltacache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events sent after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed channel when racing Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) FullLoad(ns, k string, n int, took time.Duration) {
	h.try(func() { h.inner.FullLoad(ns, k, n, took) })
}
func (h *Hooks) RemoteHit(ns, k string) { h.try(func() { h.inner.RemoteHit(ns, k) }) }
func (h *Hooks) DeltaMerged(ns, k string, d, total int, took time.Duration) {
	h.try(func() { h.inner.DeltaMerged(ns, k, d, total, took) })
}
func (h *Hooks) RefreshFailed(ns, k, stage string, err error) {
	h.try(func() { h.inner.RefreshFailed(ns, k, stage, err) })
}
func (h *Hooks) SelfHeal(k, r string)                { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) RemoteWriteFailed(k string, err error) { h.try(func() { h.inner.RemoteWriteFailed(k, err) }) }
func (h *Hooks) InvalidateOutage(k string, err error) {
	h.try(func() { h.inner.InvalidateOutage(k, err) })
}
