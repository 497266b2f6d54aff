package codec

import "encoding/json"

// JSON is the default codec. Fields tagged `json:",omitempty"` are dropped
// when empty, which is how record types get null-field omission.
// Decoding an empty payload yields the zero value.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if len(b) == 0 {
		return v, nil
	}
	err := json.Unmarshal(b, &v)
	return v, err
}
