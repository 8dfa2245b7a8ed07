// ABOUTME: Per-field classification computed from the index settings
// ABOUTME: Rules are referenced by position and resolved lazily against the live rule lists

// Package metadata classifies fields (searchable, sortable, filterable,
// localized) and keeps that classification in step with the field id table.
package metadata

import (
	"fmt"

	"github.com/nainya/fieldstore/pkg/rules"
	"golang.org/x/text/language"
)

// ruleRef is a rule position plus one; zero means no rule matched
type ruleRef uint16

func refAt(pos int) ruleRef {
	return ruleRef(pos + 1)
}

func (r ruleRef) index(n int, kind string) int {
	i := int(r) - 1
	if i >= n {
		panic(fmt.Sprintf("metadata: %s rule ref %d out of range for %d rules", kind, r, n))
	}
	return i
}

// Metadata is the classification of one field. It is a small value and
// is safe to copy and to keep after the settings it came from change.
type Metadata struct {
	Searchable bool
	Sortable   bool

	localized  ruleRef
	filterable ruleRef
}

func (m Metadata) IsSearchable() bool      { return m.Searchable }
func (m Metadata) IsSortable() bool        { return m.Sortable }
func (m Metadata) HasLocalizedRule() bool  { return m.localized != 0 }
func (m Metadata) HasFilterableRule() bool { return m.filterable != 0 }

// Locales returns the languages of the localized rule that matched the field.
// The rules must be the list the metadata was classified against.
func (m Metadata) Locales(localized []rules.LocalizedAttributesRule) ([]language.Tag, bool) {
	if m.localized == 0 {
		return nil, false
	}
	return localized[m.localized.index(len(localized), "localized")].LocalesSlice(), true
}

// FilterableAttributesRule returns the filterable rule that matched the field
func (m Metadata) FilterableAttributesRule(filterable []rules.FilterableAttributesRule) (rules.FilterableAttributesRule, bool) {
	if m.filterable == 0 {
		return rules.FilterableAttributesRule{}, false
	}
	return filterable[m.filterable.index(len(filterable), "filterable")], true
}

// FilterableAttributesFeatures returns the features enabled for the field,
// or no features when no filterable rule matched.
func (m Metadata) FilterableAttributesFeatures(filterable []rules.FilterableAttributesRule) rules.FilterableAttributesFeatures {
	rule, ok := m.FilterableAttributesRule(filterable)
	if !ok {
		return rules.NoFeatures()
	}
	return rule.Features()
}

// IsFaceted reports whether the field belongs in the facet databases
func (m Metadata) IsFaceted(filterable []rules.FilterableAttributesRule) bool {
	if m.Sortable {
		return true
	}
	features := m.FilterableAttributesFeatures(filterable)
	return features.IsFilterable() || features.IsFacetSearchable()
}

func (m Metadata) String() string {
	return fmt.Sprintf("searchable=%t sortable=%t localized=%d filterable=%d",
		m.Searchable, m.Sortable, m.localized, m.filterable)
}
