package deltacache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the read path.
// Wrap a slow implementation with hooks/async.
type Hooks interface {
	// A list or value was built from the loader. items is 1 for values.
	FullLoad(namespace, key string, items int, took time.Duration)

	// An entry was materialized from the remote tier instead of the loader.
	RemoteHit(namespace, key string)

	// A stale list was refreshed by delta. total is the list size after the merge.
	DeltaMerged(namespace, key string, delta, total int, took time.Duration)

	// A refresh failed and the previous entry was kept.
	// stage ∈ {"fingerprint", "delta"}
	RefreshFailed(namespace, key, stage string, err error)

	// A remote entry was deleted on read.
	// reason ∈ {"corrupt", "decode"}
	SelfHeal(storageKey, reason string)

	// Writing an entry to the remote tier failed or was refused (err == nil).
	RemoteWriteFailed(storageKey string, err error)

	// Removing keys from the remote tier failed during an invalidation.
	InvalidateOutage(keyOrPattern string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) FullLoad(string, string, int, time.Duration)         {}
func (NopHooks) RemoteHit(string, string)                            {}
func (NopHooks) DeltaMerged(string, string, int, int, time.Duration) {}
func (NopHooks) RefreshFailed(string, string, string, error)         {}
func (NopHooks) SelfHeal(string, string)                             {}
func (NopHooks) RemoteWriteFailed(string, error)                     {}
func (NopHooks) InvalidateOutage(string, error)                      {}
