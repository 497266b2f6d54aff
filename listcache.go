package deltacache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/deltacache/codec"
	"github.com/unkn0wn-root/deltacache/fingerprint"
	"github.com/unkn0wn-root/deltacache/internal/keys"
	"github.com/unkn0wn-root/deltacache/internal/wire"
	"github.com/unkn0wn-root/deltacache/memstore"
	"github.com/unkn0wn-root/deltacache/provider"
)

const tracerName = "github.com/unkn0wn-root/deltacache"

// errGone is returned inside a refresh flight when the entry was invalidated
// before the flight started. Read rebuilds in that case.
var errGone = errors.New("deltacache: entry invalidated")

type listCache[T Entity[T]] struct {
	ns          string
	load        LoadFunc[T]
	loadDelta   DeltaFunc[T]
	fingerprint fingerprint.Func

	provider provider.Provider
	codec    codec.Codec[T]
	exp      provider.Expiration
	store    *memstore.Store[*ListEntry[T]]

	timeout     time.Duration
	failOpen    bool
	cloneOnRead bool
	enabled     bool

	log            Logger
	hooks          Hooks
	tracer         trace.Tracer
	now            func() time.Time
	computeSetCost SetCostFunc

	// one refresh in flight per storage key
	refreshes singleflight.Group
}

func newListCache[T Entity[T]](opts ListOptions[T]) (*listCache[T], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("deltacache: namespace is required")
	}
	if strings.Contains(opts.Namespace, ":") {
		return nil, fmt.Errorf("deltacache: namespace %q must not contain ':'", opts.Namespace)
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("deltacache: Load is required")
	}
	if opts.LoadDelta == nil {
		return nil, fmt.Errorf("deltacache: LoadDelta is required")
	}
	if opts.Fingerprint == nil {
		return nil, fmt.Errorf("deltacache: Fingerprint is required")
	}

	c := &listCache[T]{
		ns:          opts.Namespace,
		load:        opts.Load,
		loadDelta:   opts.LoadDelta,
		fingerprint: opts.Fingerprint,
		provider:    opts.Provider,
		exp:         opts.Expiration,
		timeout:     opts.Timeout,
		failOpen:    opts.FailOpen,
		cloneOnRead: opts.CloneOnRead,
		enabled:     !opts.Disabled,
	}

	// defaults
	c.codec = coalesce[codec.Codec[T]](opts.Codec, codec.JSON[T]{})
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Tracer != nil {
		c.tracer = opts.Tracer
	} else {
		c.tracer = otel.Tracer(tracerName)
	}
	if opts.Clock != nil {
		c.now = opts.Clock
	} else {
		c.now = time.Now
	}
	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = defaultCost
	}
	if opts.Store != nil {
		c.store = opts.Store
	} else {
		c.store = memstore.New[*ListEntry[T]]()
	}
	return c, nil
}

func (c *listCache[T]) Enabled() bool { return c.enabled }

func (c *listCache[T]) Close(ctx context.Context) error {
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *listCache[T]) Read(ctx context.Context, key string) ([]T, error) {
	if !c.enabled {
		items, err := c.callLoad(ctx, key)
		if err != nil {
			return nil, &LoadError{Key: key, Stage: StageLoad, Err: err}
		}
		return items, nil
	}

	sk := keys.List(c.ns, key)
	// a refresh that finds the entry gone rebuilds once; a second miss is reported as is
	for attempt := 0; ; attempt++ {
		// loaded is set inside this call's flight when it ran a full load; the
		// entry then carries a fingerprint taken moments ago
		var loaded bool
		e, err := c.store.GetOrAddFunc(ctx, sk, func(ctx context.Context) (*ListEntry[T], error) {
			e, full, err := c.materialize(ctx, key, sk)
			loaded = full
			return e, err
		}, func(ctx context.Context, e *ListEntry[T]) {
			if loaded {
				c.persist(ctx, sk, e)
			}
		})
		if err != nil {
			return nil, err
		}
		if loaded {
			return c.view(e), nil
		}

		cur, err := c.callFingerprint(ctx, key)
		if err != nil {
			return c.stale(key, e, StageFingerprint, err)
		}
		if cur == e.Fingerprint {
			return c.view(e), nil
		}

		next, err := c.refresh(ctx, key, sk, cur)
		if errors.Is(err, errGone) && attempt == 0 {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return c.stale(key, e, StageDelta, err)
		}
		return c.view(next), nil
	}
}

func (c *listCache[T]) Peek(key string) (*ListEntry[T], bool) {
	return c.store.Get(keys.List(c.ns, key))
}

func (c *listCache[T]) Contains(ctx context.Context, key string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	sk := keys.List(c.ns, key)
	if _, ok := c.store.Get(sk); ok {
		return true, nil
	}
	return containsRemote(ctx, c.provider, c.timeout, sk)
}

func (c *listCache[T]) Invalidate(ctx context.Context, key string) error {
	sk := keys.List(c.ns, key)
	c.store.Delete(sk)
	c.refreshes.Forget(sk)
	if c.provider == nil {
		return nil
	}

	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.provider.Del(cctx, sk); err != nil {
		c.log.Warn("remote delete failed", keyFields(c.ns, key, "err", err))
		c.hooks.InvalidateOutage(sk, err)
		return &InvalidateError{Key: key, DelErr: err}
	}
	c.log.Debug("invalidated", keyFields(c.ns, key))
	return nil
}

func (c *listCache[T]) InvalidateLocal(key string) bool {
	sk := keys.List(c.ns, key)
	c.refreshes.Forget(sk)
	return c.store.Delete(sk)
}

// InvalidateByPattern drops every list of the namespace whose key contains
// pattern, in both tiers. "" drops the whole namespace.
func (c *listCache[T]) InvalidateByPattern(ctx context.Context, pattern string) error {
	space := keys.ListSpace(c.ns)
	dropped := 0
	for _, sk := range c.store.Keys(space) {
		if k, ok := keys.User(space, sk); ok && strings.Contains(k, pattern) {
			c.refreshes.Forget(sk)
			if c.store.Delete(sk) {
				dropped++
			}
		}
	}
	if c.provider == nil {
		return nil
	}

	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	n, err := deleteRemoteByPattern(cctx, c.provider, space, pattern)
	if err != nil {
		c.log.Warn("remote pattern delete failed", Fields{"ns": c.ns, "pattern": pattern, "err": err})
		c.hooks.InvalidateOutage(space+pattern, err)
		return &InvalidateError{Pattern: pattern, DelErr: err}
	}
	c.log.Debug("invalidated by pattern", Fields{"ns": c.ns, "pattern": pattern, "local": dropped, "remote": n})
	return nil
}

// materialize builds the entry for a key missing from the process store:
// the remote snapshot when there is a usable one, else a full load. full
// reports the latter. The caller persists a full load once the store kept it.
func (c *listCache[T]) materialize(ctx context.Context, key, sk string) (_ *ListEntry[T], full bool, err error) {
	ctx, span := c.tracer.Start(ctx, "deltacache.materialize", trace.WithAttributes(
		attribute.String("deltacache.namespace", c.ns),
		attribute.String("deltacache.key", key),
	))
	defer func() { endSpan(span, err) }()

	if c.provider != nil {
		e, ok, err := c.fromRemote(ctx, sk)
		if err != nil {
			c.log.Error("remote read failed", keyFields(c.ns, key, "err", err))
			return nil, false, &LoadError{Key: key, Stage: StageRemote, Err: err}
		}
		if ok {
			span.SetAttributes(attribute.Bool("deltacache.remote_hit", true))
			c.hooks.RemoteHit(c.ns, key)
			return e, false, nil
		}
	}

	fp, err := c.callFingerprint(ctx, key)
	if err != nil {
		return nil, false, &LoadError{Key: key, Stage: StageFingerprint, Err: err}
	}
	at := c.now()
	items, err := c.callLoad(ctx, key)
	if err != nil {
		c.log.Warn("full load failed", keyFields(c.ns, key, "err", err))
		return nil, false, &LoadError{Key: key, Stage: StageLoad, Err: err}
	}
	took := c.now().Sub(at)

	e := newListEntry(at, fp, items)
	span.SetAttributes(attribute.Int("deltacache.items", len(items)))
	c.hooks.FullLoad(c.ns, key, len(items), took)
	c.log.Debug("full load", keyFields(c.ns, key, "items", len(items), "fp", fp))
	return e, true, nil
}

// refresh merges the delta since the entry's LastUpdate and publishes the
// result. Concurrent callers for the same key share one flight, which runs
// detached from the cancellation of the caller that started it.
func (c *listCache[T]) refresh(ctx context.Context, key, sk, fp string) (*ListEntry[T], error) {
	fctx := context.WithoutCancel(ctx)
	ch := c.refreshes.DoChan(sk, func() (_ any, err error) {
		cur, ok := c.store.Get(sk)
		if !ok {
			return nil, errGone
		}
		if cur.Fingerprint == fp {
			// refreshed by an earlier flight
			return cur, nil
		}

		ctx, span := c.tracer.Start(fctx, "deltacache.refresh", trace.WithAttributes(
			attribute.String("deltacache.namespace", c.ns),
			attribute.String("deltacache.key", key),
		))
		defer func() { endSpan(span, err) }()

		since, until := cur.LastUpdate, c.now()
		delta, err := c.callDelta(ctx, key, since, until)
		if err != nil {
			return nil, err
		}
		next := cur.Apply(delta, until, fp)
		took := c.now().Sub(until)
		span.SetAttributes(
			attribute.Int("deltacache.delta", len(delta)),
			attribute.Int("deltacache.items", len(next.Items)),
		)

		if !c.store.CompareAndSwap(sk, cur, next) {
			// invalidated or replaced meanwhile; this flight's callers still get the merge
			c.log.Debug("refresh not published", keyFields(c.ns, key))
			return next, nil
		}
		c.hooks.DeltaMerged(c.ns, key, len(delta), len(next.Items), took)
		c.log.Debug("delta merged", keyFields(c.ns, key, "delta", len(delta), "items", len(next.Items), "fp", fp))
		c.persist(ctx, sk, next)
		return next, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*ListEntry[T]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stale returns e's items together with the refresh failure, or with a nil
// error under FailOpen.
func (c *listCache[T]) stale(key string, e *ListEntry[T], stage Stage, err error) ([]T, error) {
	c.hooks.RefreshFailed(c.ns, key, string(stage), err)
	c.log.Warn("refresh failed; serving stale", keyFields(c.ns, key, "stage", stage, "err", err))
	if c.failOpen {
		return c.view(e), nil
	}
	return c.view(e), &RefreshError{Key: key, Stage: stage, Err: err}
}

func (c *listCache[T]) view(e *ListEntry[T]) []T {
	if c.cloneOnRead {
		return e.DeepSnapshot()
	}
	return e.Snapshot()
}

// fromRemote decodes the remote snapshot of sk. A snapshot that cannot be
// decoded is deleted and reported as absent.
func (c *listCache[T]) fromRemote(ctx context.Context, sk string) (*ListEntry[T], bool, error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	raw, ok, err := c.provider.Get(cctx, sk)
	cancel()
	if err != nil || !ok {
		return nil, false, err
	}

	m, payloads, err := wire.DecodeList(raw)
	if err != nil {
		c.selfHeal(ctx, sk, "corrupt", err)
		return nil, false, nil
	}
	items := make([]T, 0, len(payloads))
	for _, p := range payloads {
		it, err := c.codec.Decode(p)
		if err != nil {
			c.selfHeal(ctx, sk, "decode", err)
			return nil, false, nil
		}
		items = append(items, it)
	}
	return &ListEntry[T]{
		CreatedAt:   m.CreatedAt,
		LastUpdate:  m.LastUpdate,
		Fingerprint: m.Fingerprint,
		Items:       items,
	}, true, nil
}

// persist writes e to the remote tier. Failures are logged and reported to
// hooks; the process entry stays authoritative.
func (c *listCache[T]) persist(ctx context.Context, sk string, e *ListEntry[T]) {
	if c.provider == nil {
		return
	}
	payloads := make([][]byte, len(e.Items))
	for i, it := range e.Items {
		b, err := c.codec.Encode(it)
		if err != nil {
			c.log.Error("encode item failed; remote write skipped", Fields{"key": sk, "index": i, "err": err})
			c.hooks.RemoteWriteFailed(sk, err)
			return
		}
		payloads[i] = b
	}
	raw, err := wire.EncodeList(wire.Meta{
		CreatedAt:   e.CreatedAt,
		LastUpdate:  e.LastUpdate,
		Fingerprint: e.Fingerprint,
	}, payloads)
	if err != nil {
		c.log.Error("encode envelope failed; remote write skipped", Fields{"key": sk, "err": err})
		c.hooks.RemoteWriteFailed(sk, err)
		return
	}
	writeRemote(ctx, c.provider, c.timeout, sk, raw, c.computeSetCost(sk, raw, len(e.Items)), c.exp, c.log, c.hooks)
}

func (c *listCache[T]) selfHeal(ctx context.Context, sk, reason string, cause error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	_ = c.provider.Del(cctx, sk)
	c.log.Warn("dropped unreadable remote entry", Fields{"key": sk, "reason": reason, "err": cause})
	c.hooks.SelfHeal(sk, reason)
}

func (c *listCache[T]) callFingerprint(ctx context.Context, key string) (string, error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	return c.fingerprint(cctx, key)
}

func (c *listCache[T]) callLoad(ctx context.Context, key string) ([]T, error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	return c.load(cctx, key)
}

func (c *listCache[T]) callDelta(ctx context.Context, key string, since, until time.Time) ([]T, error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	return c.loadDelta(cctx, key, since, until)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
