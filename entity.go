package deltacache

import (
	"github.com/unkn0wn-root/deltacache/codec"
)

// Entity is the capability set of a cached list element. T is usually a
// pointer to the record type itself:
//
//	type Order struct{ ID int; Status string }
//
//	func (o *Order) HasKey(x *Order) bool { return o.ID == x.ID }
//	func (o *Order) Map(x *Order)         { o.Status = x.Status }
//	func (o *Order) Clone() *Order        { c, _ := deltacache.JSONClone(o); return c }
//
// The identity key must be stable for the lifetime of an entity. Two entities
// with the same key are the same logical record whatever their other fields.
type Entity[T any] interface {
	// HasKey reports whether other has the same identity key. Must not mutate.
	HasKey(other T) bool
	// Map copies other's fields into the receiver.
	Map(other T)
	// Clone returns a deep copy that shares no mutable state with the receiver.
	Clone() T
}

// JSONClone deep-copies v through a JSON round trip.
func JSONClone[T any](v T) (T, error) {
	return codec.Clone[T](codec.JSON[T]{}, v)
}

// IndexByKey returns the position of the first item with x's identity, or -1.
func IndexByKey[T Entity[T]](items []T, x T) int {
	for i, it := range items {
		if it.HasKey(x) {
			return i
		}
	}
	return -1
}

// MatchAndMap merges src into dst when both have the same identity and
// reports whether they did. It mutates dst, so only use it on lists nobody
// else can observe.
func MatchAndMap[T Entity[T]](dst, src T) bool {
	if !dst.HasKey(src) {
		return false
	}
	dst.Map(src)
	return true
}

// Merge applies delta to items with append-or-merge semantics and returns the
// result as a new slice. An item whose identity is already present is replaced,
// at the same position, by a clone with the delta fields mapped onto it; any
// other item is appended as a clone, in delta order. Neither items nor any of
// its elements are modified, and merging the same delta twice is a no-op on
// the second pass.
func Merge[T Entity[T]](items, delta []T) []T {
	out := make([]T, len(items), len(items)+len(delta))
	copy(out, items)
	// positions already replaced by a private clone in this merge
	owned := make(map[int]struct{}, len(delta))

	for _, d := range delta {
		i := IndexByKey(out, d)
		if i < 0 {
			owned[len(out)] = struct{}{}
			out = append(out, d.Clone())
			continue
		}
		if _, ok := owned[i]; !ok {
			out[i] = out[i].Clone()
			owned[i] = struct{}{}
		}
		out[i].Map(d)
	}
	return out
}
