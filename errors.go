package deltacache

import (
	"errors"
	"fmt"
)

// Stage names the step of a load or refresh that failed.
type Stage string

const (
	StageRemote      Stage = "remote"
	StageFingerprint Stage = "fingerprint"
	StageLoad        Stage = "load"
	StageDelta       Stage = "delta"
)

var (
	// ErrStale matches a *RefreshError: the returned data is the last known-good entry.
	ErrStale = errors.New("deltacache: serving stale entry")

	ErrRemote      = errors.New("deltacache: remote tier failed")
	ErrFingerprint = errors.New("deltacache: fingerprint failed")
	ErrLoad        = errors.New("deltacache: load failed")
	ErrDelta       = errors.New("deltacache: delta load failed")
)

func stageSentinel(s Stage) error {
	switch s {
	case StageRemote:
		return ErrRemote
	case StageFingerprint:
		return ErrFingerprint
	case StageLoad:
		return ErrLoad
	case StageDelta:
		return ErrDelta
	default:
		return nil
	}
}

// LoadError reports a failed construction. Nothing was cached; the next read retries.
type LoadError struct {
	Key   string
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("deltacache: build %q failed at %s: %v", e.Key, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() []error {
	errs := []error{e.Err}
	if s := stageSentinel(e.Stage); s != nil {
		errs = append(errs, s)
	}
	return errs
}

// RefreshError reports a failed refresh. It is returned together with the
// previous items, which are still the freshest data known.
type RefreshError struct {
	Key   string
	Stage Stage
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("deltacache: refresh %q failed at %s (serving stale): %v", e.Key, e.Stage, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	errs := []error{e.Err, ErrStale}
	if s := stageSentinel(e.Stage); s != nil {
		errs = append(errs, s)
	}
	return errs
}

// InvalidateError reports that the local entry was dropped but the remote
// tier could not be cleaned.
type InvalidateError struct {
	Key     string // set for single-key invalidation
	Pattern string // set for pattern invalidation
	DelErr  error
}

func (e *InvalidateError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("invalidate pattern %q: remote delete failed: %v", e.Pattern, e.DelErr)
	}
	return fmt.Sprintf("invalidate %q: remote delete failed: %v", e.Key, e.DelErr)
}

func (e *InvalidateError) Unwrap() error { return e.DelErr }
