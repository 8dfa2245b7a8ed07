// ABOUTME: Tests for the upgrade pipeline and the registered steps
// ABOUTME: Verifies step selection, per-step atomicity and reindex aggregation

package upgrade

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/internal/metrics"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/progress"
	"github.com/nainya/fieldstore/pkg/rules"
	"github.com/nainya/fieldstore/pkg/storage"
	"github.com/nainya/fieldstore/pkg/vector"
	"github.com/nainya/fieldstore/pkg/version"
)

func openEnv(t *testing.T) *storage.Env {
	t.Helper()
	env, err := storage.Open("upgrade", &storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

// legacyIndex writes an index stamped with v (or unversioned when v is nil)
func legacyIndex(t *testing.T, v *version.Version, fill func(ix *index.Index, w *storage.RwTxn)) *index.Index {
	t.Helper()
	ix := index.Open(openEnv(t))

	wtxn, err := ix.WriteTxn()
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, ix.PutVersion(wtxn, *v))
	}
	if fill != nil {
		fill(ix, wtxn)
	}
	require.NoError(t, wtxn.Commit())
	return ix
}

func recordedVersion(t *testing.T, ix *index.Index) version.Version {
	t.Helper()
	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()
	v, ok, err := ix.Version(rtxn)
	require.NoError(t, err)
	require.True(t, ok)
	return v
}

func noop(reindex bool) Action {
	return Func(func(ctx context.Context, sc *StepContext) (bool, error) { return reindex, nil })
}

func ptr(v version.Version) *version.Version { return &v }

func TestDefaultPipeline(t *testing.T) {
	p := Default()
	require.NoError(t, p.ValidateSteps())
	assert.Equal(t, version.Current, p.Current())
	assert.Equal(t, version.Oldest, p.Oldest)
}

func TestValidateSteps(t *testing.T) {
	p := &Pipeline{
		Oldest: version.New(1, 0, 0),
		Steps: []*Step{
			{Target: version.New(1, 2, 0), Action: noop(false)},
			{Target: version.New(1, 1, 0), Action: noop(false)},
		},
	}
	assert.True(t, ErrInvalidPipeline.Has(p.ValidateSteps()))

	p.Steps[1].Target = version.New(1, 2, 0)
	assert.Error(t, p.ValidateSteps(), "duplicate targets must be rejected")

	p.Steps = []*Step{{Target: version.New(1, 0, 0), Action: noop(false)}}
	assert.Error(t, p.ValidateSteps(), "a step cannot target the oldest version")

	p.Steps = []*Step{{Target: version.New(1, 1, 0)}}
	assert.Error(t, p.ValidateSteps(), "a step needs an action")
}

func TestPending(t *testing.T) {
	p := Default()

	tests := []struct {
		from version.Version
		want []version.Version
	}{
		{version.New(1, 12, 0), []version.Version{{Major: 1, Minor: 12, Patch: 3}, {Major: 1, Minor: 13, Patch: 0}, {Major: 1, Minor: 13, Patch: 1}, {Major: 1, Minor: 14, Patch: 0}}},
		{version.New(1, 12, 3), []version.Version{{Major: 1, Minor: 13, Patch: 0}, {Major: 1, Minor: 13, Patch: 1}, {Major: 1, Minor: 14, Patch: 0}}},
		{version.New(1, 13, 0), []version.Version{{Major: 1, Minor: 13, Patch: 1}, {Major: 1, Minor: 14, Patch: 0}}},
		{version.New(1, 13, 2), []version.Version{{Major: 1, Minor: 14, Patch: 0}}},
		{version.New(1, 14, 0), nil},
	}
	for _, tt := range tests {
		steps, err := p.Pending(tt.from)
		require.NoError(t, err, tt.from.String())

		var got []version.Version
		for _, s := range steps {
			got = append(got, s.Target)
		}
		assert.Equal(t, tt.want, got, tt.from.String())
	}

	_, err := p.Pending(version.New(1, 11, 9))
	assert.True(t, ErrUnsupportedVersion.Has(err))

	_, err = p.Pending(version.New(1, 15, 0))
	assert.True(t, ErrDowngrade.Has(err))
}

func TestRunAlreadyCurrentWritesNothing(t *testing.T) {
	ix := legacyIndex(t, ptr(version.Current), nil)
	before := ix.Env().Stats()

	res, err := Default().Run(context.Background(), ix, progress.Progress{})
	require.NoError(t, err)

	assert.Empty(t, res.Executed)
	assert.False(t, res.NeedsReindex)
	assert.Equal(t, version.Current, res.To)
	assert.Equal(t, before, ix.Env().Stats(), "no write transaction may be opened")
}

func TestRunVectorStepFrom1130(t *testing.T) {
	ix := legacyIndex(t, ptr(version.New(1, 13, 0)), func(ix *index.Index, w *storage.RwTxn) {
		require.NoError(t, vector.CreateCollection(w, "embeddings", vector.Header{Distance: vector.Cosine, Format: vector.Format05}))
		require.NoError(t, vector.Put(w, "embeddings", 1, []float32{3, 4}))
	})

	var vectorStep *Step
	for _, s := range Default().Steps {
		if s.Target == version.New(1, 14, 0) {
			vectorStep = s
		}
	}
	require.NotNil(t, vectorStep)
	p := &Pipeline{Oldest: version.New(1, 13, 0), Steps: []*Step{vectorStep}}

	res, err := p.Run(context.Background(), ix, progress.Progress{})
	require.NoError(t, err)

	assert.Equal(t, version.New(1, 14, 0), recordedVersion(t, ix))
	assert.Equal(t, []version.Version{{Major: 1, Minor: 14, Patch: 0}}, res.Executed)
	assert.False(t, res.NeedsReindex)

	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()
	h, _, err := vector.HeaderOf(rtxn, "embeddings")
	require.NoError(t, err)
	assert.Equal(t, vector.Format06, h.Format)
}

func TestRunFailingStepRollsBack(t *testing.T) {
	ix := legacyIndex(t, ptr(version.New(1, 0, 0)), nil)
	boom := errors.New("boom")

	p := &Pipeline{
		Oldest: version.New(1, 0, 0),
		Steps: []*Step{
			{Target: version.New(1, 1, 0), Action: Func(func(ctx context.Context, sc *StepContext) (bool, error) {
				return true, sc.Txn.Set([]byte("first"), []byte("kept"))
			})},
			{Target: version.New(1, 2, 0), Action: Func(func(ctx context.Context, sc *StepContext) (bool, error) {
				if err := sc.Txn.Set([]byte("second"), []byte("partial")); err != nil {
					return false, err
				}
				return false, boom
			})},
			{Target: version.New(1, 3, 0), Action: Func(func(ctx context.Context, sc *StepContext) (bool, error) {
				t.Error("step after a failure must not run")
				return false, nil
			})},
		},
	}

	res, err := p.Run(context.Background(), ix, progress.Progress{})
	require.ErrorIs(t, err, boom)
	assert.True(t, Error.Has(err))
	assert.Equal(t, []version.Version{{Major: 1, Minor: 1, Patch: 0}}, res.Executed)
	assert.Equal(t, version.New(1, 1, 0), res.To)

	assert.Equal(t, version.New(1, 1, 0), recordedVersion(t, ix))

	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()
	_, ok, _ := rtxn.Get([]byte("first"))
	assert.True(t, ok, "committed step survives")
	_, ok, _ = rtxn.Get([]byte("second"))
	assert.False(t, ok, "failed step leaves no partial writes")

	stats := ix.Env().Stats()
	assert.Equal(t, uint64(1), stats.Aborts)
}

func TestRunAggregatesReindex(t *testing.T) {
	ix := legacyIndex(t, ptr(version.New(1, 0, 0)), nil)
	p := &Pipeline{
		Oldest: version.New(1, 0, 0),
		Steps: []*Step{
			{Target: version.New(1, 1, 0), Action: noop(false)},
			{Target: version.New(1, 2, 0), Action: noop(true)},
			{Target: version.New(1, 3, 0), Action: noop(false)},
		},
	}

	res, err := p.Run(context.Background(), ix, progress.Progress{})
	require.NoError(t, err)
	assert.True(t, res.NeedsReindex)
	assert.Len(t, res.Executed, 3)

	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()
	history, err := version.History(rtxn)
	require.NoError(t, err)
	assert.Equal(t, []version.Version{{Major: 1, Minor: 1, Patch: 0}, {Major: 1, Minor: 2, Patch: 0}, {Major: 1, Minor: 3, Patch: 0}}, history)
}

func TestRunCancelled(t *testing.T) {
	ix := legacyIndex(t, ptr(version.Oldest), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Default().Run(ctx, ix, progress.Progress{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, version.Oldest, recordedVersion(t, ix))
}

func TestDefaultRunFromUnversionedIndex(t *testing.T) {
	ix := legacyIndex(t, nil, func(ix *index.Index, w *storage.RwTxn) {
		_, err := ix.AddDocuments(w, []map[string]any{
			{"genre": "jazz", "price": 10},
			{"genre": "rock"},
		})
		require.NoError(t, err)
		require.NoError(t, ix.PutFieldDistribution(w, map[string]uint64{"stale": 42}))
		require.NoError(t, ix.PutLegacyFilterableFields(w, []string{"price", "genre", "genre"}))
		require.NoError(t, ix.PutFacetStringCacheEntry(w, 0, "jazz", 0))
		require.NoError(t, vector.CreateCollection(w, "v", vector.Header{Distance: vector.Euclidean, Format: vector.Format05}))
	})

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	rec := &progress.Recorder{}
	p := Default()
	p.Log = logger.NewLogger(logger.Config{Level: "debug", Output: &buf})
	p.Metrics = metrics.NewMetrics(reg)

	res, err := p.Run(context.Background(), ix, progress.New(rec))
	require.NoError(t, err)

	assert.Equal(t, version.Oldest, res.From)
	assert.Equal(t, version.Current, res.To)
	assert.Len(t, res.Executed, 4)
	assert.True(t, res.NeedsReindex, "dropping the facet cache requires a reindex")
	assert.Equal(t, version.Current, recordedVersion(t, ix))

	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()

	dist, err := ix.FieldDistribution(rtxn)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"genre": 2, "price": 1}, dist)

	fr, err := ix.FilterableAttributesRules(rtxn)
	require.NoError(t, err)
	require.Len(t, fr, 2)
	assert.Equal(t, "genre", fr[0].AttributePatterns()[0])
	assert.True(t, fr[1].IsLegacy())

	_, ok, err := ix.LegacyFilterableFields(rtxn)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := ix.FacetStringCacheLen(rtxn)
	require.NoError(t, err)
	assert.Zero(t, n)

	h, _, err := vector.HeaderOf(rtxn, "v")
	require.NoError(t, err)
	assert.Equal(t, vector.Format06, h.Format)

	phases := rec.Phases()
	require.Len(t, phases, 4)
	assert.Equal(t, "MigrateFilterableFields", phases[1].Name)
	assert.Equal(t, "1.13.0", phases[1].Step)

	for _, target := range []string{"1.12.3", "1.13.0", "1.13.1", "1.14.0"} {
		assert.Equal(t, float64(1), testutil.ToFloat64(p.Metrics.UpgradeStepsTotal.WithLabelValues(target, "success")), target)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Metrics.IndexVersionInfo.WithLabelValues("1.14.0")))
	assert.Contains(t, buf.String(), "Upgrade step finished")
}

func TestMigrateKeepsExistingRules(t *testing.T) {
	ix := legacyIndex(t, ptr(version.New(1, 12, 3)), func(ix *index.Index, w *storage.RwTxn) {
		require.NoError(t, ix.PutFilterableAttributesRules(w, []rules.FilterableAttributesRule{
			rules.PatternRule([]string{"new.*"}, rules.DefaultFeatures()),
		}))
		require.NoError(t, ix.PutLegacyFilterableFields(w, []string{"old"}))
	})

	_, err := Default().Run(context.Background(), ix, progress.Progress{})
	require.NoError(t, err)

	rtxn, err := ix.ReadTxn()
	require.NoError(t, err)
	defer rtxn.Close()

	fr, err := ix.FilterableAttributesRules(rtxn)
	require.NoError(t, err)
	require.Len(t, fr, 1)
	assert.Equal(t, "new.*", fr[0].AttributePatterns()[0])

	_, ok, err := ix.LegacyFilterableFields(rtxn)
	require.NoError(t, err)
	assert.False(t, ok, "legacy list is removed either way")
}
