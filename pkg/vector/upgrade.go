// ABOUTME: Converts collections written in format 0.5 to format 0.6
// ABOUTME: Reads through one transaction and writes through another

package vector

import (
	"fmt"

	"github.com/nainya/fieldstore/pkg/storage"
)

// UpgradeCosine05To06 upgrades one collection. Cosine items are rewritten
// with their norm; other distances only get the header bumped. A collection
// already at 0.6 is left alone.
func UpgradeCosine05To06(rtxn storage.Reader, wtxn storage.Writer, name string) error {
	h, ok, err := HeaderOf(rtxn, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	switch h.Format {
	case Format06:
		return nil
	case Format05:
	default:
		return fmt.Errorf("collection %s: %w: %q", name, ErrUnknownFormat, h.Format)
	}

	next := Header{Distance: h.Distance, Format: Format06}
	if h.Distance == Cosine {
		var writeErr error
		err := rtxn.Scan(itemPrefix(name), func(key, val []byte) bool {
			if len(val)%4 != 0 {
				writeErr = fmt.Errorf("collection %s key %x: %w", name, key, ErrCorruptItem)
				return false
			}
			data, err := encodeItem(next, decodeFloats(val))
			if err == nil {
				err = wtxn.Set(key, data)
			}
			writeErr = err
			return err == nil
		})
		if err != nil {
			return err
		}
		if writeErr != nil {
			return writeErr
		}
	}

	return wtxn.Set(headerKey(name), encodeHeader(next))
}

// UpgradeAll upgrades every collection and returns how many changed
func UpgradeAll(rtxn storage.Reader, wtxn storage.Writer) (int, error) {
	names, err := Collections(rtxn)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, name := range names {
		h, _, err := HeaderOf(rtxn, name)
		if err != nil {
			return changed, err
		}
		if err := UpgradeCosine05To06(rtxn, wtxn, name); err != nil {
			return changed, err
		}
		if h.Format != Format06 {
			changed++
		}
	}
	return changed, nil
}
