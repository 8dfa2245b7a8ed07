// ABOUTME: Named vector collections stored in the index key space
// ABOUTME: Tracks distance and item format per collection and upgrades cosine items

// Package vector stores embedding collections. Each collection has a header
// naming its distance and item format; items are keyed by collection and id.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/nainya/fieldstore/pkg/storage"
)

// Prefixes for vector storage
const (
	PREFIX_VECTOR_HEADER = uint32(8000) // (collection) -> header
	PREFIX_VECTOR_ITEM   = uint32(8100) // (collection, itemID) -> encoded vector
)

// Distance is the similarity function of a collection
type Distance string

const (
	Cosine     Distance = "cosine"
	Euclidean  Distance = "euclidean"
	DotProduct Distance = "dot"
)

// Format is the item layout version of a collection
type Format string

const (
	// Format05 stores every item as raw little-endian float32s
	Format05 Format = "0.5"
	// Format06 prefixes cosine items with their precomputed norm
	Format06 Format = "0.6"
)

var (
	ErrCollectionNotFound = errors.New("vector: collection not found")
	ErrCollectionExists   = errors.New("vector: collection already exists")
	ErrUnknownFormat      = errors.New("vector: unknown item format")
	ErrCorruptItem        = errors.New("vector: corrupt item")
)

// Header describes a collection
type Header struct {
	Distance Distance
	Format   Format
}

func headerKey(name string) []byte {
	return storage.EncodeKey(PREFIX_VECTOR_HEADER, []storage.Value{storage.NewStringValue(name)})
}

func itemKey(name string, id uint32) []byte {
	return storage.EncodeKey(PREFIX_VECTOR_ITEM, []storage.Value{
		storage.NewStringValue(name),
		storage.NewUint64Value(uint64(id)),
	})
}

func itemPrefix(name string) []byte {
	// A bytes column is null terminated so this never matches a longer name
	return storage.EncodeKey(PREFIX_VECTOR_ITEM, []storage.Value{storage.NewStringValue(name)})
}

func encodeHeader(h Header) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.NewStringValue(string(h.Distance)),
		storage.NewStringValue(string(h.Format)),
	})
}

func decodeHeader(data []byte) (Header, error) {
	vals, err := storage.DecodeValues(data)
	if err != nil {
		return Header{}, err
	}
	if len(vals) != 2 {
		return Header{}, fmt.Errorf("vector header has %d columns", len(vals))
	}
	return Header{Distance: Distance(vals[0].Str), Format: Format(vals[1].Str)}, nil
}

// CreateCollection registers an empty collection
func CreateCollection(w storage.Writer, name string, h Header) error {
	if h.Format != Format05 && h.Format != Format06 {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, h.Format)
	}
	_, ok, err := w.Get(headerKey(name))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	return w.Set(headerKey(name), encodeHeader(h))
}

// HeaderOf returns the header of a collection
func HeaderOf(r storage.Reader, name string) (Header, bool, error) {
	data, ok, err := r.Get(headerKey(name))
	if err != nil || !ok {
		return Header{}, false, err
	}
	h, err := decodeHeader(data)
	if err != nil {
		return Header{}, false, fmt.Errorf("collection %s: %w", name, err)
	}
	return h, true, nil
}

// Collections lists collection names in key order
func Collections(r storage.Reader) ([]string, error) {
	var (
		names   []string
		scanErr error
	)
	err := r.Scan(storage.PrefixKey(PREFIX_VECTOR_HEADER), func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) != 1 {
			scanErr = fmt.Errorf("corrupt vector header key %x", key)
			return false
		}
		names = append(names, string(vals[0].Str))
		return true
	})
	if err != nil {
		return nil, err
	}
	return names, scanErr
}

// Put stores a vector in the collection's current format
func Put(w storage.Writer, name string, id uint32, vec []float32) error {
	h, ok, err := HeaderOf(w, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	data, err := encodeItem(h, vec)
	if err != nil {
		return err
	}
	return w.Set(itemKey(name, id), data)
}

// Get loads a vector, decoding it according to the collection's format
func Get(r storage.Reader, name string, id uint32) ([]float32, bool, error) {
	h, ok, err := HeaderOf(r, name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	data, ok, err := r.Get(itemKey(name, id))
	if err != nil || !ok {
		return nil, false, err
	}
	vec, err := decodeItem(h, data)
	if err != nil {
		return nil, false, fmt.Errorf("collection %s item %d: %w", name, id, err)
	}
	return vec, true, nil
}

// Len counts the items of a collection
func Len(r storage.Reader, name string) (int, error) {
	n := 0
	err := r.Scan(itemPrefix(name), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func storesNorm(h Header) bool {
	return h.Distance == Cosine && h.Format == Format06
}

func encodeItem(h Header, vec []float32) ([]byte, error) {
	switch h.Format {
	case Format05, Format06:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, h.Format)
	}

	var out []byte
	if storesNorm(h) {
		out = make([]byte, 0, 4*(len(vec)+1))
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(norm(vec)))
	} else {
		out = make([]byte, 0, 4*len(vec))
	}
	for _, f := range vec {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out, nil
}

func decodeItem(h Header, data []byte) ([]float32, error) {
	switch h.Format {
	case Format05, Format06:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, h.Format)
	}
	if len(data)%4 != 0 {
		return nil, ErrCorruptItem
	}
	if storesNorm(h) {
		if len(data) < 4 {
			return nil, ErrCorruptItem
		}
		data = data[4:]
	}
	return decodeFloats(data), nil
}

func decodeFloats(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec
}

func norm(vec []float32) float32 {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}
