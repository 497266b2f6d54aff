// Package deltacache implements a two-tier, read-mostly cache for lists of
// entities whose source changes incrementally. A list is loaded once, then
// kept fresh by merging only what changed since the last refresh.
//
// Components:
//   - memstore.Store: in-process entries with single-flight construction.
//   - Provider: remote byte store shared across processes (Redis, Ristretto, BigCache).
//   - fingerprint.Func: freshness oracle. A list is stale when the oracle's
//     value differs from the one recorded at the last refresh.
//   - Codec[T]: (de)serializes list items for the remote tier.
//
// Keys:
//
//	list:<ns>:<key>   - list entries
//	value:<ns>:<key>  - scalar entries
//
// Read protocol:
//
//	e  := store.GetOrAdd(key, remote snapshot or Fingerprint+Load)
//	if e was just loaded: return e          // persisted once the store kept it
//	fp := Fingerprint(key)
//	if fp != e.Fingerprint:
//	    d := LoadDelta(key, e.LastUpdate, now)  // one refresh in flight per key
//	    publish e.Apply(d, now, fp)             // merge by identity, copy-on-write
//
// Builds and refreshes are shared by every caller waiting on the key and do
// not follow the cancellation of the caller that started them.
//
// A failed refresh keeps the previous entry and returns its items with a
// *RefreshError, so callers can choose between stale data and the error.
package deltacache
