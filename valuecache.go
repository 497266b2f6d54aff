package deltacache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/deltacache/codec"
	"github.com/unkn0wn-root/deltacache/internal/keys"
	"github.com/unkn0wn-root/deltacache/internal/wire"
	"github.com/unkn0wn-root/deltacache/memstore"
	"github.com/unkn0wn-root/deltacache/provider"
)

type valueCache[V any] struct {
	ns       string
	load     func(ctx context.Context, key string) (V, error)
	provider provider.Provider
	codec    codec.Codec[V]
	exp      provider.Expiration
	store    *memstore.Store[*Entry[V]]

	timeout     time.Duration
	cloneOnRead bool
	enabled     bool

	log            Logger
	hooks          Hooks
	now            func() time.Time
	computeSetCost SetCostFunc
}

func newValueCache[V any](opts ValueOptions[V]) (*valueCache[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("deltacache: namespace is required")
	}
	if strings.Contains(opts.Namespace, ":") {
		return nil, fmt.Errorf("deltacache: namespace %q must not contain ':'", opts.Namespace)
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("deltacache: Load is required")
	}

	c := &valueCache[V]{
		ns:          opts.Namespace,
		load:        opts.Load,
		provider:    opts.Provider,
		exp:         opts.Expiration,
		timeout:     opts.Timeout,
		cloneOnRead: opts.CloneOnRead,
		enabled:     !opts.Disabled,
	}
	c.codec = coalesce[codec.Codec[V]](opts.Codec, codec.JSON[V]{})
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.now = time.Now
	if opts.Clock != nil {
		c.now = opts.Clock
	}
	c.computeSetCost = defaultCost
	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	}
	c.store = opts.Store
	if c.store == nil {
		c.store = memstore.New[*Entry[V]]()
	}
	return c, nil
}

func (c *valueCache[V]) Enabled() bool { return c.enabled }

func (c *valueCache[V]) Close(ctx context.Context) error {
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *valueCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if !c.enabled {
		v, err := c.callLoad(ctx, key)
		if err != nil {
			return zero, &LoadError{Key: key, Stage: StageLoad, Err: err}
		}
		return v, nil
	}

	sk := keys.Value(c.ns, key)
	var loaded bool
	e, err := c.store.GetOrAddFunc(ctx, sk, func(ctx context.Context) (*Entry[V], error) {
		e, full, err := c.materialize(ctx, key, sk)
		loaded = full
		return e, err
	}, func(ctx context.Context, e *Entry[V]) {
		if loaded {
			c.writeBack(ctx, sk, e)
		}
	})
	if err != nil {
		return zero, err
	}
	return c.view(e)
}

// Set replaces the value in both tiers. The process entry is published even
// when the remote write fails; the error is still returned.
func (c *valueCache[V]) Set(ctx context.Context, key string, value V) error {
	if !c.enabled {
		return nil
	}
	sk := keys.Value(c.ns, key)
	now := c.now()
	e := &Entry[V]{CreatedAt: now, LastUpdate: now, Value: value}
	if prev, ok := c.store.Get(sk); ok {
		e.CreatedAt = prev.CreatedAt
	}
	c.store.Set(sk, e)

	if c.provider == nil {
		return nil
	}
	raw, err := c.encode(e)
	if err != nil {
		return fmt.Errorf("deltacache: encode %q: %w", key, err)
	}
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	ok, err := c.provider.Set(cctx, sk, raw, c.computeSetCost(sk, raw, 1), c.exp)
	if err != nil {
		c.hooks.RemoteWriteFailed(sk, err)
		return fmt.Errorf("deltacache: set %q: %w", key, err)
	}
	if !ok {
		c.log.Debug("remote write rejected by provider (pressure)", Fields{"key": sk})
		c.hooks.RemoteWriteFailed(sk, nil)
	}
	return nil
}

func (c *valueCache[V]) Peek(key string) (*Entry[V], bool) {
	return c.store.Get(keys.Value(c.ns, key))
}

func (c *valueCache[V]) Contains(ctx context.Context, key string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	sk := keys.Value(c.ns, key)
	if _, ok := c.store.Get(sk); ok {
		return true, nil
	}
	return containsRemote(ctx, c.provider, c.timeout, sk)
}

func (c *valueCache[V]) Invalidate(ctx context.Context, key string) error {
	sk := keys.Value(c.ns, key)
	c.store.Delete(sk)
	if c.provider == nil {
		return nil
	}
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.provider.Del(cctx, sk); err != nil {
		c.hooks.InvalidateOutage(sk, err)
		return &InvalidateError{Key: key, DelErr: err}
	}
	return nil
}

func (c *valueCache[V]) InvalidateByPattern(ctx context.Context, pattern string) error {
	space := keys.ValueSpace(c.ns)
	for _, sk := range c.store.Keys(space) {
		if k, ok := keys.User(space, sk); ok && strings.Contains(k, pattern) {
			c.store.Delete(sk)
		}
	}
	if c.provider == nil {
		return nil
	}
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := deleteRemoteByPattern(cctx, c.provider, space, pattern); err != nil {
		c.hooks.InvalidateOutage(space+pattern, err)
		return &InvalidateError{Pattern: pattern, DelErr: err}
	}
	return nil
}

// materialize returns the remote value when there is a usable one, else
// loads it. full reports a load; Get writes it back once the store kept it.
func (c *valueCache[V]) materialize(ctx context.Context, key, sk string) (*Entry[V], bool, error) {
	if c.provider != nil {
		cctx, cancel := withTimeout(ctx, c.timeout)
		raw, ok, err := c.provider.Get(cctx, sk)
		cancel()
		if err != nil {
			return nil, false, &LoadError{Key: key, Stage: StageRemote, Err: err}
		}
		if ok {
			if e, ok := c.decode(ctx, sk, raw); ok {
				c.hooks.RemoteHit(c.ns, key)
				return e, false, nil
			}
		}
	}

	at := c.now()
	v, err := c.callLoad(ctx, key)
	if err != nil {
		return nil, false, &LoadError{Key: key, Stage: StageLoad, Err: err}
	}
	c.hooks.FullLoad(c.ns, key, 1, c.now().Sub(at))
	return &Entry[V]{CreatedAt: at, LastUpdate: at, Value: v}, true, nil
}

func (c *valueCache[V]) writeBack(ctx context.Context, sk string, e *Entry[V]) {
	if c.provider == nil {
		return
	}
	raw, err := c.encode(e)
	if err != nil {
		c.log.Error("encode value failed; remote write skipped", Fields{"key": sk, "err": err})
		c.hooks.RemoteWriteFailed(sk, err)
		return
	}
	writeRemote(ctx, c.provider, c.timeout, sk, raw, c.computeSetCost(sk, raw, 1), c.exp, c.log, c.hooks)
}

func (c *valueCache[V]) decode(ctx context.Context, sk string, raw []byte) (*Entry[V], bool) {
	heal := func(reason string, cause error) {
		cctx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()
		_ = c.provider.Del(cctx, sk)
		c.log.Warn("dropped unreadable remote entry", Fields{"key": sk, "reason": reason, "err": cause})
		c.hooks.SelfHeal(sk, reason)
	}
	m, payload, err := wire.DecodeValue(raw)
	if err != nil {
		heal("corrupt", err)
		return nil, false
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		heal("decode", err)
		return nil, false
	}
	return &Entry[V]{
		CreatedAt:   m.CreatedAt,
		LastUpdate:  m.LastUpdate,
		Fingerprint: m.Fingerprint,
		Value:       v,
	}, true
}

func (c *valueCache[V]) encode(e *Entry[V]) ([]byte, error) {
	payload, err := c.codec.Encode(e.Value)
	if err != nil {
		return nil, err
	}
	return wire.EncodeValue(wire.Meta{
		CreatedAt:   e.CreatedAt,
		LastUpdate:  e.LastUpdate,
		Fingerprint: e.Fingerprint,
	}, payload)
}

func (c *valueCache[V]) view(e *Entry[V]) (V, error) {
	if !c.cloneOnRead {
		return e.Value, nil
	}
	return codec.Clone(c.codec, e.Value)
}

func (c *valueCache[V]) callLoad(ctx context.Context, key string) (V, error) {
	cctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	return c.load(cctx, key)
}
