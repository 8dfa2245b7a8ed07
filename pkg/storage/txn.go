// ABOUTME: Read and write transactions over the pebble environment
// ABOUTME: Write transactions buffer in an indexed batch and commit atomically

package storage

import (
	"github.com/cockroachdb/pebble"
)

// Reader is the read surface shared by both transaction kinds.
// Values handed to Scan callbacks are only valid during the callback.
type Reader interface {
	Get(key []byte) ([]byte, bool, error)
	Scan(prefix []byte, callback func(key, val []byte) bool) error
}

// Writer is a Reader that can also mutate the store
type Writer interface {
	Reader
	Set(key, val []byte) error
	Del(key []byte) error
	DelPrefix(prefix []byte) (int, error)
}

// RoTxn is a read-only transaction pinned to a snapshot
type RoTxn struct {
	snap *pebble.Snapshot
}

// Get retrieves a value by key
func (tx *RoTxn) Get(key []byte) ([]byte, bool, error) {
	return get(tx.snap, key)
}

// Scan visits every key with the given prefix in order
func (tx *RoTxn) Scan(prefix []byte, callback func(key, val []byte) bool) error {
	return scan(tx.snap, prefix, callback)
}

// Close releases the snapshot
func (tx *RoTxn) Close() error {
	return tx.snap.Close()
}

// RwTxn is the single write transaction of an environment
type RwTxn struct {
	env   *Env
	batch *pebble.Batch
	done  bool
}

// Get retrieves a value, seeing this transaction's own writes
func (tx *RwTxn) Get(key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, ErrTxnDone
	}
	return get(tx.batch, key)
}

// Scan visits every key with the given prefix, including uncommitted writes
func (tx *RwTxn) Scan(prefix []byte, callback func(key, val []byte) bool) error {
	if tx.done {
		return ErrTxnDone
	}
	return scan(tx.batch, prefix, callback)
}

// Set inserts or updates a key-value pair
func (tx *RwTxn) Set(key, val []byte) error {
	if tx.done {
		return ErrTxnDone
	}
	return tx.batch.Set(key, val, nil)
}

// Del deletes a key
func (tx *RwTxn) Del(key []byte) error {
	if tx.done {
		return ErrTxnDone
	}
	return tx.batch.Delete(key, nil)
}

// DelPrefix deletes every key with the given prefix and reports how many
func (tx *RwTxn) DelPrefix(prefix []byte) (int, error) {
	if tx.done {
		return 0, ErrTxnDone
	}

	// Collect first: the batch must not change under its own iterator
	var keys [][]byte
	err := tx.Scan(prefix, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := tx.batch.Delete(key, nil); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Commit applies every write atomically and releases the writer lock
func (tx *RwTxn) Commit() error {
	if tx.done {
		return ErrTxnDone
	}
	tx.done = true
	defer tx.env.writer.Unlock()

	err := tx.batch.Commit(tx.env.writeOptions())
	closeErr := tx.batch.Close()
	if err != nil {
		tx.env.aborts.Add(1)
		return err
	}
	tx.env.commits.Add(1)
	return closeErr
}

// Abort discards every write. Calling it after Commit is a no-op,
// so it can always be deferred.
func (tx *RwTxn) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	defer tx.env.writer.Unlock()

	_ = tx.batch.Close()
	tx.env.aborts.Add(1)
}
