package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	version   byte = 1
	kindList  byte = 1
	kindValue byte = 2

	// magic | ver | kind | created | updated | fpLen
	headerLen = 4 + 1 + 1 + 8 + 8 + 2
)

var (
	ErrCorrupt = errors.New("deltacache: corrupt entry")
	magic4     = [...]byte{'D', 'L', 'T', 'C'}
)

// Meta is the freshness metadata carried by every envelope.
type Meta struct {
	CreatedAt   time.Time
	LastUpdate  time.Time
	Fingerprint string
}

// List: header | n(u32 be) | { vlen(u32 be) | payload(vlen) } * n
func EncodeList(m Meta, payloads [][]byte) ([]byte, error) {
	total := headerLen + len(m.Fingerprint) + 4
	for _, p := range payloads {
		total += 4 + len(p)
	}
	var buf bytes.Buffer
	buf.Grow(total)
	if err := writeHeader(&buf, kindList, m); err != nil {
		return nil, err
	}

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payloads)))
	buf.Write(u4[:])
	for _, p := range payloads {
		binary.BigEndian.PutUint32(u4[:], uint32(len(p)))
		buf.Write(u4[:])
		buf.Write(p)
	}
	return buf.Bytes(), nil
}

func DecodeList(b []byte) (Meta, [][]byte, error) {
	m, off, err := readHeader(b, kindList)
	if err != nil {
		return Meta{}, nil, err
	}
	if off+4 > len(b) {
		return Meta{}, nil, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// every item needs at least its length prefix; reject bogus counts before allocating
	if n < 0 || n > (len(b)-off)/4 {
		return Meta{}, nil, ErrCorrupt
	}

	payloads := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return Meta{}, nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return Meta{}, nil, ErrCorrupt
		}
		payloads = append(payloads, b[off:off+vlen])
		off += vlen
	}
	if off != len(b) {
		return Meta{}, nil, ErrCorrupt
	}
	return m, payloads, nil
}

// Value: header | vlen(u32 be) | payload(vlen)
func EncodeValue(m Meta, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(m.Fingerprint) + 4 + len(payload))
	if err := writeHeader(&buf, kindValue, m); err != nil {
		return nil, err
	}
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

func DecodeValue(b []byte) (Meta, []byte, error) {
	m, off, err := readHeader(b, kindValue)
	if err != nil {
		return Meta{}, nil, err
	}
	if off+4 > len(b) {
		return Meta{}, nil, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Meta{}, nil, ErrCorrupt
	}
	return m, b[off:], nil
}

func writeHeader(buf *bytes.Buffer, kind byte, m Meta) error {
	if len(m.Fingerprint) > 0xFFFF {
		return fmt.Errorf("deltacache: fingerprint too long: %d bytes", len(m.Fingerprint))
	}
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(m.CreatedAt)))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(unixNano(m.LastUpdate)))
	buf.Write(u8[:])

	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], uint16(len(m.Fingerprint)))
	buf.Write(u2[:])
	buf.WriteString(m.Fingerprint)
	return nil
}

func readHeader(b []byte, kind byte) (Meta, int, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kind {
		return Meta{}, 0, ErrCorrupt
	}
	off := 6
	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	updated := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	flen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if flen > len(b)-off {
		return Meta{}, 0, ErrCorrupt
	}
	fp := string(b[off : off+flen])
	off += flen

	return Meta{
		CreatedAt:   fromUnixNano(created),
		LastUpdate:  fromUnixNano(updated),
		Fingerprint: fp,
	}, off, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
