// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Keys are a 4-byte table prefix followed by type-tagged columns

package storage

import (
	"encoding/binary"
	"fmt"
)

// Column types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_UINT64 = 3
)

// Value represents a single column in a composite key
type Value struct {
	Type uint8
	Str  []byte
	U64  uint64
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// EncodeValues encodes columns so that byte order follows column order.
// Bytes columns are escaped and null-terminated, so an encoded tuple is
// always a prefix of any longer tuple starting with the same columns.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("unknown column type: %d", v.Type))
		}
	}
	return out
}

// DecodeValues decodes columns produced by EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 2)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_UINT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete uint64 at pos %d", pos)
			}
			vals = append(vals, NewUint64Value(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8

		case TYPE_BYTES:
			end := pos
			for end < len(data) && data[end] != 0 {
				if data[end] == 0xFE {
					end++ // escaped byte follows
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated bytes at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown column type %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// escapeString escapes 0x00, 0xFE and 0xFF so they can live inside a key
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			out = append(out, 0xFE)
		}
		out = append(out, b)
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			i++
		}
		out = append(out, s[i])
	}
	return out
}

// PrefixKey encodes only the 4-byte table prefix, for scanning a whole table
func PrefixKey(prefix uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), prefix)
}

// EncodeKey encodes a composite key under a table prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	return append(PrefixKey(prefix), EncodeValues(vals)...)
}

// ExtractPrefix extracts the table prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues decodes the columns of an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}
