// ABOUTME: Pebble-backed key-value environment for index storage
// ABOUTME: Single-writer discipline with snapshot reads and atomic batch commits

package storage

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var (
	// ErrClosed is returned by operations on a closed environment
	ErrClosed = errors.New("storage: environment closed")

	// ErrTxnDone is returned when a finished transaction is used again
	ErrTxnDone = errors.New("storage: transaction already committed or aborted")
)

// Options configures how an environment is opened
type Options struct {
	InMemory bool // Keep everything in memory (tests, tooling)
	NoSync   bool // Skip fsync on commit
}

// Env is a persistent key-value environment
type Env struct {
	Path string

	db   *pebble.DB
	opts Options

	// Only one write transaction may be open at a time
	writer sync.Mutex

	closed  atomic.Bool
	commits atomic.Uint64
	aborts  atomic.Uint64
}

// Stats counts write transactions finished on an environment
type Stats struct {
	Commits uint64
	Aborts  uint64
}

// Open opens or creates the environment at path
func Open(path string, opts *Options) (*Env, error) {
	env := &Env{Path: path}
	if opts != nil {
		env.opts = *opts
	}

	pebbleOpts := &pebble.Options{}
	if env.opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	env.db = db
	return env, nil
}

// Close closes the environment
func (env *Env) Close() error {
	if !env.closed.CompareAndSwap(false, true) {
		return nil
	}
	return env.db.Close()
}

// ReadTxn opens a read-only transaction over a consistent snapshot
func (env *Env) ReadTxn() (*RoTxn, error) {
	if env.closed.Load() {
		return nil, ErrClosed
	}
	return &RoTxn{snap: env.db.NewSnapshot()}, nil
}

// WriteTxn opens the write transaction, blocking while another one is open.
// Nothing written through it is visible to other readers until Commit.
func (env *Env) WriteTxn() (*RwTxn, error) {
	if env.closed.Load() {
		return nil, ErrClosed
	}
	env.writer.Lock()
	return &RwTxn{env: env, batch: env.db.NewIndexedBatch()}, nil
}

// Stats returns write transaction counters
func (env *Env) Stats() Stats {
	return Stats{Commits: env.commits.Load(), Aborts: env.aborts.Load()}
}

func (env *Env) writeOptions() *pebble.WriteOptions {
	if env.opts.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// getter is satisfied by pebble snapshots and indexed batches
type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// iterable is satisfied by pebble snapshots and indexed batches
type iterable interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func get(g getter, key []byte) ([]byte, bool, error) {
	val, closer, err := g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func scan(it iterable, prefix []byte, callback func(key, val []byte) bool) error {
	iter, err := it.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}

	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}

	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return err
	}
	return iter.Close()
}

// PrefixUpperBound returns the smallest key greater than every key with prefix.
// A nil result means the scan is unbounded.
func PrefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
