package deltacache

import "time"

// Entry is the scalar cache entry. Published entries are never mutated;
// an overwrite replaces the whole entry.
type Entry[V any] struct {
	CreatedAt   time.Time
	LastUpdate  time.Time
	Fingerprint string
	Value       V
}

// ListEntry is the list cache entry. Published entries are never mutated:
// a refresh builds the next entry with Apply and swaps it in. Items must be
// treated as read-only by everyone holding the entry.
type ListEntry[T Entity[T]] struct {
	CreatedAt   time.Time
	LastUpdate  time.Time
	Fingerprint string
	Items       []T
}

func newListEntry[T Entity[T]](at time.Time, fp string, items []T) *ListEntry[T] {
	return &ListEntry[T]{
		CreatedAt:   at,
		LastUpdate:  at,
		Fingerprint: fp,
		Items:       items,
	}
}

// Apply returns the entry that results from merging delta at time at under
// fingerprint fp. CreatedAt is carried over; e is left untouched.
func (e *ListEntry[T]) Apply(delta []T, at time.Time, fp string) *ListEntry[T] {
	return &ListEntry[T]{
		CreatedAt:   e.CreatedAt,
		LastUpdate:  at,
		Fingerprint: fp,
		Items:       Merge(e.Items, delta),
	}
}

// Snapshot returns a new slice over the entry's items. The elements are shared.
func (e *ListEntry[T]) Snapshot() []T {
	out := make([]T, len(e.Items))
	copy(out, e.Items)
	return out
}

// DeepSnapshot returns clones of the entry's items.
func (e *ListEntry[T]) DeepSnapshot() []T {
	out := make([]T, len(e.Items))
	for i, it := range e.Items {
		out[i] = it.Clone()
	}
	return out
}
