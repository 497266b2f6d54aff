package deltacache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	c "github.com/unkn0wn-root/deltacache/codec"
	fp "github.com/unkn0wn-root/deltacache/fingerprint"
	"github.com/unkn0wn-root/deltacache/memstore"
	pr "github.com/unkn0wn-root/deltacache/provider"
)

// SetCostFunc reports the cost of a remote write. items is the list length
// (1 for values). Only providers with cost-based admission look at it.
type SetCostFunc func(storageKey string, raw []byte, items int) int64

// LoadFunc builds the full list for key from the backing source.
type LoadFunc[T any] func(ctx context.Context, key string) ([]T, error)

// DeltaFunc returns the items of key that changed in [since, until). since is
// the start of the previous load or refresh, so a change racing with it is
// picked up again.
// Returning an item that did not change is harmless; the merge is idempotent.
type DeltaFunc[T any] func(ctx context.Context, key string, since, until time.Time) ([]T, error)

// ListCache serves materialized lists and keeps them fresh by delta merge.
type ListCache[T Entity[T]] interface {
	Enabled() bool
	Close(context.Context) error

	// Read returns the items for key, building the list on first use and
	// merging the delta since the last refresh when the fingerprint moved.
	// A failed refresh returns the previous items with a *RefreshError.
	Read(ctx context.Context, key string) ([]T, error)

	// Peek returns the process entry for key without touching the source or the remote tier.
	Peek(key string) (*ListEntry[T], bool)

	// Contains reports whether key is cached in either tier. It never loads.
	Contains(ctx context.Context, key string) (bool, error)

	Invalidate(ctx context.Context, key string) error
	InvalidateLocal(key string) bool
	InvalidateByPattern(ctx context.Context, pattern string) error
}

// ListOptions configure one list namespace.
// Namespace, Load, LoadDelta and Fingerprint are required.
type ListOptions[T Entity[T]] struct {
	// Required
	Namespace   string // e.g. "orders"; isolates keys in both tiers
	Load        LoadFunc[T]
	LoadDelta   DeltaFunc[T]
	Fingerprint fp.Func

	Provider   pr.Provider                   // remote tier; nil => process only
	Codec      c.Codec[T]                    // item codec; nil => JSON
	Expiration pr.Expiration                 // remote expiration; zero => none
	Store      *memstore.Store[*ListEntry[T]] // nil => private store

	Timeout     time.Duration // per call to the source, the oracle or the remote tier; 0 => none
	FailOpen    bool          // failed refresh returns stale items with a nil error
	CloneOnRead bool          // Read returns deep clones

	Logger         Logger           // nil => NopLogger
	Hooks          Hooks            // nil => NopHooks
	Tracer         trace.Tracer     // nil => otel global tracer
	Clock          func() time.Time // nil => time.Now
	ComputeSetCost SetCostFunc      // nil => payload length
	Disabled       bool             // every Read goes to Load
}

// ValueCache is the scalar counterpart of ListCache: one value per key,
// replaced wholesale.
type ValueCache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
	Peek(key string) (*Entry[V], bool)
	Contains(ctx context.Context, key string) (bool, error)

	Invalidate(ctx context.Context, key string) error
	InvalidateByPattern(ctx context.Context, pattern string) error
}

// ValueOptions configure one value namespace. Namespace and Load are required.
type ValueOptions[V any] struct {
	Namespace string
	Load      func(ctx context.Context, key string) (V, error)

	Provider   pr.Provider
	Codec      c.Codec[V] // nil => JSON
	Expiration pr.Expiration
	Store      *memstore.Store[*Entry[V]]

	Timeout     time.Duration
	CloneOnRead bool // Get returns a codec round-trip copy

	Logger         Logger
	Hooks          Hooks
	Clock          func() time.Time
	ComputeSetCost SetCostFunc
	Disabled       bool
}

func New[T Entity[T]](opts ListOptions[T]) (ListCache[T], error) {
	return newListCache[T](opts)
}

func NewValue[V any](opts ValueOptions[V]) (ValueCache[V], error) {
	return newValueCache[V](opts)
}
