// ABOUTME: Builds field metadata from the four attribute rule collections
// ABOUTME: Classification is pure and safe to call from concurrent readers

package metadata

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/nainya/fieldstore/pkg/patterns"
	"github.com/nainya/fieldstore/pkg/rules"
)

// MaxRules is the longest rule list a rule reference can address
const MaxRules = math.MaxUint16

// ErrTooManyRules is returned when a rule list exceeds MaxRules
var ErrTooManyRules = errors.New("metadata: too many attribute rules")

// Settings holds the attribute settings metadata is derived from
type Settings struct {
	// Nil means every field is searchable
	SearchableAttributes []string
	FilterableAttributes []rules.FilterableAttributesRule
	SortableAttributes   []string
	// Nil means no field is localized
	LocalizedAttributes []rules.LocalizedAttributesRule
}

// Builder classifies field names. It is immutable once built.
type Builder struct {
	searchable    []string
	hasSearchable bool
	filterable    []rules.FilterableAttributesRule
	sortable      []string
	localized     []rules.LocalizedAttributesRule
	hasLocalized  bool
}

// NewBuilder validates settings and returns a builder over a private copy of them
func NewBuilder(s Settings) (*Builder, error) {
	if n := len(s.FilterableAttributes); n > MaxRules {
		return nil, fmt.Errorf("%w: %d filterable rules, at most %d", ErrTooManyRules, n, MaxRules)
	}
	if n := len(s.LocalizedAttributes); n > MaxRules {
		return nil, fmt.Errorf("%w: %d localized rules, at most %d", ErrTooManyRules, n, MaxRules)
	}

	b := &Builder{
		filterable: slices.Clone(s.FilterableAttributes),
		sortable:   dedupe(s.SortableAttributes),
	}
	if s.SearchableAttributes != nil && !slices.Contains(s.SearchableAttributes, "*") {
		b.searchable = slices.Clone(s.SearchableAttributes)
		b.hasSearchable = true
	}
	if s.LocalizedAttributes != nil {
		b.localized = slices.Clone(s.LocalizedAttributes)
		b.hasLocalized = true
	}
	return b, nil
}

func dedupe(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}

// Classify computes the metadata of a field name
func (b *Builder) Classify(field string) Metadata {
	m := Metadata{Searchable: true}

	if b.hasSearchable {
		m.Searchable = false
		for _, attr := range b.searchable {
			if patterns.IsFacetedBy(field, attr) {
				m.Searchable = true
				break
			}
		}
	}

	for _, attr := range b.sortable {
		if patterns.IsFacetedBy(field, attr) {
			m.Sortable = true
			break
		}
	}

	for i, rule := range b.localized {
		if rule.MatchStr(field) == patterns.Match {
			m.localized = refAt(i)
			break
		}
	}

	for i, rule := range b.filterable {
		if rule.MatchStr(field) == patterns.Match {
			m.filterable = refAt(i)
			break
		}
	}

	return m
}

// SearchableAttributes returns the searchable patterns; false means every field is searchable
func (b *Builder) SearchableAttributes() ([]string, bool) {
	return b.searchable, b.hasSearchable
}

func (b *Builder) FilterableAttributes() []rules.FilterableAttributesRule {
	return b.filterable
}

func (b *Builder) SortableAttributes() []string {
	return b.sortable
}

// LocalizedAttributes returns the localized rules; false means the setting is unset
func (b *Builder) LocalizedAttributes() ([]rules.LocalizedAttributesRule, bool) {
	return b.localized, b.hasLocalized
}
