// ABOUTME: Tests for vector collections and the 0.5 to 0.6 format upgrade
// ABOUTME: Uses an in-memory pebble environment

package vector

import (
	"math"
	"testing"

	"github.com/nainya/fieldstore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memEnv(t *testing.T) *storage.Env {
	t.Helper()
	env, err := storage.Open("vectors", &storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestCollectionRoundTrip(t *testing.T) {
	env := memEnv(t)

	tx, err := env.WriteTxn()
	require.NoError(t, err)
	defer tx.Abort()

	require.NoError(t, CreateCollection(tx, "embeddings", Header{Distance: Cosine, Format: Format06}))
	require.ErrorIs(t, CreateCollection(tx, "embeddings", Header{Distance: Cosine, Format: Format06}), ErrCollectionExists)
	require.ErrorIs(t, CreateCollection(tx, "bad", Header{Distance: Cosine, Format: "0.4"}), ErrUnknownFormat)

	require.NoError(t, Put(tx, "embeddings", 7, []float32{3, 4}))
	vec, ok, err := Get(tx, "embeddings", 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, vec)

	_, ok, err = Get(tx, "embeddings", 8)
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, Put(tx, "missing", 1, []float32{1}), ErrCollectionNotFound)
}

func TestCollectionsAreIsolatedByName(t *testing.T) {
	env := memEnv(t)
	tx, err := env.WriteTxn()
	require.NoError(t, err)
	defer tx.Abort()

	require.NoError(t, CreateCollection(tx, "a", Header{Distance: Euclidean, Format: Format05}))
	require.NoError(t, CreateCollection(tx, "ab", Header{Distance: Euclidean, Format: Format05}))
	require.NoError(t, Put(tx, "a", 1, []float32{1}))
	require.NoError(t, Put(tx, "ab", 1, []float32{1}))
	require.NoError(t, Put(tx, "ab", 2, []float32{2}))

	names, err := Collections(tx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab"}, names)

	n, err := Len(tx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpgradeCosine(t *testing.T) {
	env := memEnv(t)

	tx, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, CreateCollection(tx, "docs", Header{Distance: Cosine, Format: Format05}))
	require.NoError(t, Put(tx, "docs", 1, []float32{3, 4}))
	require.NoError(t, Put(tx, "docs", 2, []float32{0, 1}))
	require.NoError(t, CreateCollection(tx, "plain", Header{Distance: DotProduct, Format: Format05}))
	require.NoError(t, Put(tx, "plain", 1, []float32{1, 2}))
	require.NoError(t, tx.Commit())

	rtxn, err := env.ReadTxn()
	require.NoError(t, err)
	wtxn, err := env.WriteTxn()
	require.NoError(t, err)

	changed, err := UpgradeAll(rtxn, wtxn)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	rtxn.Close()
	require.NoError(t, wtxn.Commit())

	rtxn, err = env.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()

	h, ok, err := HeaderOf(rtxn, "docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Header{Distance: Cosine, Format: Format06}, h)

	// Cosine items now carry their norm ahead of the vector
	raw, ok, err := rtxn.Get(itemKey("docs", 1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, raw, 12)
	assert.Equal(t, float32(5), decodeFloats(raw[:4])[0])

	vec, ok, err := Get(rtxn, "docs", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, vec)

	// Non-cosine items are untouched apart from the header
	raw, _, err = rtxn.Get(itemKey("plain", 1))
	require.NoError(t, err)
	assert.Len(t, raw, 8)
	h, _, _ = HeaderOf(rtxn, "plain")
	assert.Equal(t, Format06, h.Format)
}

func TestUpgradeIsIdempotent(t *testing.T) {
	env := memEnv(t)

	tx, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, CreateCollection(tx, "docs", Header{Distance: Cosine, Format: Format06}))
	require.NoError(t, Put(tx, "docs", 1, []float32{1, 0}))
	require.NoError(t, tx.Commit())

	rtxn, _ := env.ReadTxn()
	defer rtxn.Close()
	wtxn, _ := env.WriteTxn()
	defer wtxn.Abort()

	changed, err := UpgradeAll(rtxn, wtxn)
	require.NoError(t, err)
	assert.Zero(t, changed)

	raw, _, _ := wtxn.Get(itemKey("docs", 1))
	assert.Len(t, raw, 12, "item must not get a second norm")
}

func TestUpgradeRejectsUnknownFormat(t *testing.T) {
	env := memEnv(t)

	tx, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, tx.Set(headerKey("old"), encodeHeader(Header{Distance: Cosine, Format: "0.3"})))
	require.NoError(t, tx.Commit())

	rtxn, _ := env.ReadTxn()
	defer rtxn.Close()
	wtxn, _ := env.WriteTxn()
	defer wtxn.Abort()

	require.ErrorIs(t, UpgradeCosine05To06(rtxn, wtxn, "old"), ErrUnknownFormat)
	require.ErrorIs(t, UpgradeCosine05To06(rtxn, wtxn, "none"), ErrCollectionNotFound)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2), float64(norm([]float32{1, 1})), 1e-6)
	assert.Zero(t, norm(nil))
}
