// ABOUTME: Tests for read/write transactions on the pebble environment
// ABOUTME: Verifies commit visibility, abort rollback and snapshot isolation

package storage

import (
	"path/filepath"
	"testing"
)

func openTestEnv(t *testing.T) *Env {
	t.Helper()
	env, err := Open(filepath.Join(t.TempDir(), "env"), &Options{NoSync: true})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestTransactionCommit(t *testing.T) {
	env := openTestEnv(t)

	tx, err := env.WriteTxn()
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if err := tx.Set([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	// Own writes are visible before commit
	val, ok, err := tx.Get([]byte("key1"))
	if err != nil || !ok || string(val) != "value1" {
		t.Fatalf("Expected key1 inside txn, got %q %v %v", val, ok, err)
	}

	// ...but not to readers
	rtxn, err := env.ReadTxn()
	if err != nil {
		t.Fatalf("Failed to open read txn: %v", err)
	}
	if _, ok, _ := rtxn.Get([]byte("key1")); ok {
		t.Error("Uncommitted write leaked to reader")
	}
	rtxn.Close()

	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	rtxn, _ = env.ReadTxn()
	defer rtxn.Close()
	val, ok, err = rtxn.Get([]byte("key1"))
	if err != nil || !ok || string(val) != "value1" {
		t.Errorf("key1 not visible after commit: %q %v %v", val, ok, err)
	}

	if stats := env.Stats(); stats.Commits != 1 || stats.Aborts != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTransactionAbort(t *testing.T) {
	env := openTestEnv(t)

	tx, _ := env.WriteTxn()
	tx.Set([]byte("existing"), []byte("value"))
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	tx, _ = env.WriteTxn()
	tx.Set([]byte("existing"), []byte("modified"))
	tx.Set([]byte("new_key"), []byte("new_value"))
	tx.Abort()

	rtxn, _ := env.ReadTxn()
	defer rtxn.Close()

	val, ok, _ := rtxn.Get([]byte("existing"))
	if !ok || string(val) != "value" {
		t.Errorf("Expected rollback of existing, got %q", val)
	}
	if _, ok, _ := rtxn.Get([]byte("new_key")); ok {
		t.Error("new_key survived abort")
	}

	if stats := env.Stats(); stats.Commits != 1 || stats.Aborts != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTransactionDoneIsFinal(t *testing.T) {
	env := openTestEnv(t)

	tx, _ := env.WriteTxn()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	// Abort after commit is a no-op so it can be deferred
	tx.Abort()

	if err := tx.Set([]byte("k"), []byte("v")); err != ErrTxnDone {
		t.Errorf("Expected ErrTxnDone, got %v", err)
	}
	if err := tx.Commit(); err != ErrTxnDone {
		t.Errorf("Expected ErrTxnDone, got %v", err)
	}

	// The writer lock was released exactly once
	next, _ := env.WriteTxn()
	next.Abort()
}

func TestSnapshotIsolation(t *testing.T) {
	env := openTestEnv(t)

	tx, _ := env.WriteTxn()
	tx.Set([]byte("k"), []byte("v1"))
	tx.Commit()

	rtxn, _ := env.ReadTxn()
	defer rtxn.Close()

	tx, _ = env.WriteTxn()
	tx.Set([]byte("k"), []byte("v2"))
	tx.Commit()

	val, _, _ := rtxn.Get([]byte("k"))
	if string(val) != "v1" {
		t.Errorf("Snapshot should still see v1, got %q", val)
	}
}

func TestScanAndDelPrefix(t *testing.T) {
	env := openTestEnv(t)

	tx, _ := env.WriteTxn()
	for i := uint64(0); i < 5; i++ {
		tx.Set(EncodeKey(10, []Value{NewUint64Value(i)}), []byte{byte(i)})
	}
	tx.Set(EncodeKey(11, []Value{NewUint64Value(0)}), []byte("other table"))
	tx.Commit()

	tx, _ = env.WriteTxn()
	defer tx.Abort()

	var seen []uint64
	err := tx.Scan(PrefixKey(10), func(key, val []byte) bool {
		vals, err := ExtractValues(key)
		if err != nil {
			t.Fatalf("Failed to decode key: %v", err)
		}
		seen = append(seen, vals[0].U64)
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("Expected 5 keys, got %v", seen)
	}
	for i, id := range seen {
		if id != uint64(i) {
			t.Errorf("Keys out of order: %v", seen)
		}
	}

	n, err := tx.DelPrefix(PrefixKey(10))
	if err != nil || n != 5 {
		t.Fatalf("DelPrefix = %d, %v", n, err)
	}

	count := 0
	tx.Scan(PrefixKey(10), func(_, _ []byte) bool { count++; return true })
	if count != 0 {
		t.Errorf("Expected empty table after DelPrefix, got %d keys", count)
	}
	if _, ok, _ := tx.Get(EncodeKey(11, []Value{NewUint64Value(0)})); !ok {
		t.Error("DelPrefix removed a key from another table")
	}
}

func TestClosedEnv(t *testing.T) {
	env, err := Open("mem", &Options{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if _, err := env.ReadTxn(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := env.WriteTxn(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
