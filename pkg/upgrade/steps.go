// ABOUTME: Upgrade steps registered for released index versions
// ABOUTME: Covers field distribution, filterable rules, facet cache and vector formats

package upgrade

import (
	"context"
	"slices"

	"github.com/nainya/fieldstore/pkg/rules"
	"github.com/nainya/fieldstore/pkg/vector"
	"github.com/nainya/fieldstore/pkg/version"
)

// Default returns the pipeline that upgrades any supported index to version.Current
func Default() *Pipeline {
	return &Pipeline{
		Oldest: version.Oldest,
		Steps: []*Step{
			{
				Description: "recompute the field distribution from stored documents",
				Target:      version.New(1, 12, 3),
				Phases:      []string{"RecomputeFieldDistribution"},
				Action:      Func(recomputeFieldDistribution),
			},
			{
				Description: "migrate the legacy filterable field list into filterable rules",
				Target:      version.New(1, 13, 0),
				Phases:      []string{"MigrateFilterableFields"},
				Action:      Func(migrateFilterableFields),
			},
			{
				Description: "drop the obsolete facet string cache",
				Target:      version.New(1, 13, 1),
				Phases:      []string{"DropFacetStringCache"},
				Action:      Func(dropFacetStringCache),
			},
			{
				Description: "upgrade cosine vector collections from format 0.5 to 0.6",
				Target:      version.New(1, 14, 0),
				Phases:      []string{"UpdateInternalVersions"},
				Action:      Func(updateVectorFormats),
			},
		},
	}
}

func recomputeFieldDistribution(ctx context.Context, sc *StepContext) (bool, error) {
	sc.EnterPhase(0)

	dist, err := sc.Index.ComputeFieldDistribution(sc.Txn)
	if err != nil {
		return false, err
	}
	sc.Log.Debug("field distribution recomputed").Int("fields", len(dist)).Send()
	return false, sc.Index.PutFieldDistribution(sc.Txn, dist)
}

func migrateFilterableFields(ctx context.Context, sc *StepContext) (bool, error) {
	sc.EnterPhase(0)

	legacy, ok, err := sc.Index.LegacyFilterableFields(sc.Txn)
	if err != nil || !ok {
		return false, err
	}

	existing, err := sc.Index.FilterableAttributesRules(sc.Txn)
	if err != nil {
		return false, err
	}
	if len(existing) == 0 {
		fields := slices.Clone(legacy)
		slices.Sort(fields)
		migrated := make([]rules.FilterableAttributesRule, 0, len(fields))
		for _, f := range slices.Compact(fields) {
			migrated = append(migrated, rules.FieldRule(f))
		}
		if err := sc.Index.PutFilterableAttributesRules(sc.Txn, migrated); err != nil {
			return false, err
		}
		sc.Log.Debug("filterable fields migrated").Int("rules", len(migrated)).Send()
	}
	return false, sc.Index.DeleteLegacyFilterableFields(sc.Txn)
}

// The facet databases are rebuilt from documents, which requires a reindex
func dropFacetStringCache(ctx context.Context, sc *StepContext) (bool, error) {
	sc.EnterPhase(0)

	n, err := sc.Index.ClearFacetStringCache(sc.Txn)
	if err != nil {
		return false, err
	}
	sc.Log.Debug("facet string cache dropped").Int("entries", n).Send()
	return true, nil
}

func updateVectorFormats(ctx context.Context, sc *StepContext) (bool, error) {
	sc.EnterPhase(0)

	rtxn, err := sc.Index.ReadTxn()
	if err != nil {
		return false, err
	}
	defer rtxn.Close()

	changed, err := vector.UpgradeAll(rtxn, sc.Txn)
	if err != nil {
		return false, err
	}
	sc.Log.Debug("vector collections upgraded").Int("collections", changed).Send()
	return false, nil
}
