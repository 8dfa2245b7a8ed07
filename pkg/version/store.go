// ABOUTME: Persists the index format version and the upgrade history
// ABOUTME: Both records live in the index's main key space

package version

import (
	"fmt"

	"github.com/nainya/fieldstore/pkg/storage"
)

// Prefixes for version storage
const (
	PREFIX_VERSION         = uint32(6000)
	PREFIX_VERSION_HISTORY = uint32(6100) // (major, minor, patch) of every applied upgrade
)

func versionKey() []byte {
	return storage.EncodeKey(PREFIX_VERSION, nil)
}

func encode(v Version) []byte {
	return storage.EncodeValues([]storage.Value{
		storage.NewUint64Value(uint64(v.Major)),
		storage.NewUint64Value(uint64(v.Minor)),
		storage.NewUint64Value(uint64(v.Patch)),
	})
}

func decode(data []byte) (Version, error) {
	vals, err := storage.DecodeValues(data)
	if err != nil {
		return Version{}, err
	}
	if len(vals) != 3 {
		return Version{}, fmt.Errorf("version record has %d columns", len(vals))
	}
	return Version{uint32(vals[0].U64), uint32(vals[1].U64), uint32(vals[2].U64)}, nil
}

// Load returns the recorded version; false when the index predates versioning
func Load(r storage.Reader) (Version, bool, error) {
	data, ok, err := r.Get(versionKey())
	if err != nil || !ok {
		return Version{}, false, err
	}
	v, err := decode(data)
	if err != nil {
		return Version{}, false, fmt.Errorf("decode index version: %w", err)
	}
	return v, true, nil
}

// Store records v as the index version
func Store(w storage.Writer, v Version) error {
	return w.Set(versionKey(), encode(v))
}

// RecordApplied appends v to the upgrade history
func RecordApplied(w storage.Writer, v Version) error {
	key := storage.EncodeKey(PREFIX_VERSION_HISTORY, []storage.Value{
		storage.NewUint64Value(uint64(v.Major)),
		storage.NewUint64Value(uint64(v.Minor)),
		storage.NewUint64Value(uint64(v.Patch)),
	})
	return w.Set(key, nil)
}

// History returns every applied upgrade in ascending order
func History(r storage.Reader) ([]Version, error) {
	var (
		out     []Version
		scanErr error
	)
	err := r.Scan(storage.PrefixKey(PREFIX_VERSION_HISTORY), func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) != 3 {
			scanErr = fmt.Errorf("corrupt upgrade history key %x", key)
			return false
		}
		out = append(out, Version{uint32(vals[0].U64), uint32(vals[1].U64), uint32(vals[2].U64)})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}
