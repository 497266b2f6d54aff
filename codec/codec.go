// Package codec converts cached items to and from bytes.
//
// deltacache encodes list items one by one and frames them itself, so a codec
// only ever sees a single item (or a single scalar value).
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Clone returns an independent deep copy of v by encoding and decoding it
// with c. Nothing reachable from the result is shared with v.
func Clone[V any](c Codec[V], v V) (V, error) {
	b, err := c.Encode(v)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Decode(b)
}
