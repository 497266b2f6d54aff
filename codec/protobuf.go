package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes generated message types. New must return a fresh,
// empty message, e.g. func() *pb.Order { return &pb.Order{} }.
type Protobuf[T proto.Message] struct {
	New func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{New: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.New()
	err := proto.Unmarshal(b, m)
	return m, err
}
