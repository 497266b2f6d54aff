// Package provider defines the remote tier used by deltacache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. If a store performs
// internal transforms (e.g., compression), they MUST be fully reversed.
//
// Important: the keyspaces "list:<ns>:" and "value:<ns>:" are owned by deltacache.
// Foreign writes under these prefixes are treated as corruption and deleted.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks connection-class failures (store unreachable, client closed).
// Implementations wrap the underlying error with it so callers can use errors.Is.
var ErrUnavailable = errors.New("provider: store unavailable")

// Provider is a byte store with expirations and substring pattern operations.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	// Sliding entries have their window refreshed by a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, exp Expiration) (ok bool, err error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys returns every key that contains pattern as a substring.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// DelByPattern removes every key that contains pattern as a substring
	// and returns how many were removed.
	DelByPattern(ctx context.Context, pattern string) (int, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Expiration tells a provider when a key should go away.
// The zero value means no expiration.
type Expiration struct {
	// Sliding keeps the key alive for this long after the last Set or Get.
	Sliding time.Duration
	// At is an absolute deadline. Ignored when Sliding > 0.
	At time.Time
}

// Never is the zero Expiration.
var Never = Expiration{}

// Sliding returns an expiration refreshed on every access.
func Sliding(d time.Duration) Expiration { return Expiration{Sliding: d} }

// Until returns an absolute expiration.
func Until(t time.Time) Expiration { return Expiration{At: t} }

// IsZero reports whether e means "no expiration".
func (e Expiration) IsZero() bool { return e.Sliding <= 0 && e.At.IsZero() }

// IsSliding reports whether e is a sliding window.
func (e Expiration) IsSliding() bool { return e.Sliding > 0 }

// TTL converts e to a relative duration as of now.
// Returns (0, true) for no expiration and (0, false) when the absolute
// deadline already passed and the key must not be written.
func (e Expiration) TTL(now time.Time) (time.Duration, bool) {
	switch {
	case e.Sliding > 0:
		return e.Sliding, true
	case e.At.IsZero():
		return 0, true
	default:
		d := e.At.Sub(now)
		if d <= 0 {
			return 0, false
		}
		return d, true
	}
}
