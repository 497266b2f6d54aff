package deltacache

import (
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/deltacache/fingerprint"
	"github.com/unkn0wn-root/deltacache/provider"
)

// Settings is the per-namespace tuning usually kept in configuration.
//
//	{"namespace": "orders", "sliding_expiration": 1800000000000, "refresh_every": 60000000000}
type Settings struct {
	Namespace string `json:"namespace"`
	// SlidingExpiration keeps a remote entry alive while it keeps being read. 0 => no expiration.
	SlidingExpiration time.Duration `json:"sliding_expiration,omitempty"`
	// RefreshEvery is the longest a list may go without a delta check.
	RefreshEvery time.Duration `json:"refresh_every"`
}

// Validate checks the settings integrity.
func (s Settings) Validate() error {
	if s.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if strings.Contains(s.Namespace, ":") {
		return fmt.Errorf("namespace %q cannot contain ':'", s.Namespace)
	}
	if s.SlidingExpiration < 0 {
		return fmt.Errorf("sliding expiration for %s cannot be negative", s.Namespace)
	}
	if s.RefreshEvery <= 0 {
		return fmt.Errorf("refresh interval for %s must be positive", s.Namespace)
	}
	if s.SlidingExpiration > 0 && s.SlidingExpiration < s.RefreshEvery {
		return fmt.Errorf("sliding expiration %s for %s is shorter than the refresh interval %s",
			s.SlidingExpiration, s.Namespace, s.RefreshEvery)
	}
	return nil
}

// RemoteExpiration is the expiration for ListOptions.Expiration.
func (s Settings) RemoteExpiration() provider.Expiration {
	if s.SlidingExpiration <= 0 {
		return provider.Never
	}
	return provider.Sliding(s.SlidingExpiration)
}

// IntervalFingerprint is an oracle that marks lists stale once per RefreshEvery.
func (s Settings) IntervalFingerprint(now func() time.Time) fingerprint.Func {
	return fingerprint.Interval(s.RefreshEvery, now)
}
