// ABOUTME: Filterable attribute rules and the features they enable
// ABOUTME: Supports the legacy field-name form and the pattern form

package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nainya/fieldstore/pkg/patterns"
)

// Filter operator names reported by AllowedFilterOperators
const (
	OpEqual          = "="
	OpNotEqual       = "!="
	OpIn             = "IN"
	OpExists         = "EXISTS"
	OpIsNull         = "IS NULL"
	OpIsEmpty        = "IS EMPTY"
	OpLess           = "<"
	OpGreater        = ">"
	OpLessOrEqual    = "<="
	OpGreaterOrEqual = ">="
	OpTo             = "TO"
)

// FilterFeatures selects which kinds of filter may use a field
type FilterFeatures struct {
	Equality   bool `json:"equality"`
	Comparison bool `json:"comparison"`
}

// DefaultFilterFeatures enables equality only
func DefaultFilterFeatures() FilterFeatures {
	return FilterFeatures{Equality: true}
}

// IsFilterable reports whether any filter kind is enabled
func (f FilterFeatures) IsFilterable() bool {
	return f.Equality || f.Comparison
}

// FilterableAttributesFeatures is the payload of a filterable rule
type FilterableAttributesFeatures struct {
	FacetSearch bool           `json:"facetSearch"`
	Filter      FilterFeatures `json:"filter"`
}

// NoFeatures is the value used when no rule matched a field
func NoFeatures() FilterableAttributesFeatures {
	return FilterableAttributesFeatures{}
}

// DefaultFeatures is used by pattern rules that omit "features"
func DefaultFeatures() FilterableAttributesFeatures {
	return FilterableAttributesFeatures{Filter: DefaultFilterFeatures()}
}

// LegacyDefault is what a bare field-name rule enables
func LegacyDefault() FilterableAttributesFeatures {
	return FilterableAttributesFeatures{
		FacetSearch: true,
		Filter:      FilterFeatures{Equality: true, Comparison: true},
	}
}

func (f FilterableAttributesFeatures) IsFilterable() bool           { return f.Filter.IsFilterable() }
func (f FilterableAttributesFeatures) IsFacetSearchable() bool      { return f.FacetSearch }
func (f FilterableAttributesFeatures) IsFilterableEquality() bool   { return f.Filter.Equality }
func (f FilterableAttributesFeatures) IsFilterableComparison() bool { return f.Filter.Comparison }

// AllowedFilterOperators lists the operators a filter expression may apply
func (f FilterableAttributesFeatures) AllowedFilterOperators() []string {
	var ops []string
	if f.Filter.Equality {
		ops = append(ops, OpEqual, OpNotEqual, OpIn, OpExists, OpIsNull, OpIsEmpty)
	}
	if f.Filter.Comparison {
		ops = append(ops, OpLess, OpGreater, OpLessOrEqual, OpGreaterOrEqual, OpTo, OpExists, OpIsNull, OpIsEmpty)
	}
	return dedupe(ops)
}

func dedupe(ops []string) []string {
	seen := make(map[string]bool, len(ops))
	out := ops[:0]
	for _, op := range ops {
		if !seen[op] {
			seen[op] = true
			out = append(out, op)
		}
	}
	return out
}

// FilterableAttributesRule is one entry of the filterable attributes setting.
// A legacy rule is a single field name; a pattern rule carries patterns and features.
type FilterableAttributesRule struct {
	field    string
	patterns patterns.AttributePatterns
	features FilterableAttributesFeatures
}

// FieldRule builds a legacy rule for one field and everything nested under it
func FieldRule(name string) FilterableAttributesRule {
	return FilterableAttributesRule{field: name}
}

// PatternRule builds a rule matching any of the given patterns
func PatternRule(attributePatterns []string, features FilterableAttributesFeatures) FilterableAttributesRule {
	if attributePatterns == nil {
		attributePatterns = []string{}
	}
	return FilterableAttributesRule{patterns: attributePatterns, features: features}
}

// IsLegacy reports whether this is a bare field-name rule
func (r FilterableAttributesRule) IsLegacy() bool {
	return r.patterns == nil
}

// MatchStr matches a field name against the rule
func (r FilterableAttributesRule) MatchStr(field string) patterns.PatternMatch {
	if r.IsLegacy() {
		return patterns.MatchFieldLegacy(r.field, field)
	}
	return r.patterns.MatchStr(field)
}

// Features returns what the rule enables for matching fields
func (r FilterableAttributesRule) Features() FilterableAttributesFeatures {
	if r.IsLegacy() {
		return LegacyDefault()
	}
	return r.features
}

// AttributePatterns returns the rule's patterns; a legacy rule has its field name
func (r FilterableAttributesRule) AttributePatterns() patterns.AttributePatterns {
	if r.IsLegacy() {
		return patterns.AttributePatterns{r.field}
	}
	return r.patterns
}

func (r FilterableAttributesRule) String() string {
	if r.IsLegacy() {
		return fmt.Sprintf("%q", r.field)
	}
	return fmt.Sprintf("%v %+v", []string(r.patterns), r.features)
}

type filterablePatternJSON struct {
	AttributePatterns []string                      `json:"attributePatterns"`
	Features          *FilterableAttributesFeatures `json:"features,omitempty"`
}

// MarshalJSON writes a legacy rule as a string and a pattern rule as an object
func (r FilterableAttributesRule) MarshalJSON() ([]byte, error) {
	if r.IsLegacy() {
		return json.Marshal(r.field)
	}
	features := r.features
	return json.Marshal(filterablePatternJSON{
		AttributePatterns: r.patterns,
		Features:          &features,
	})
}

// UnmarshalJSON accepts either form
func (r *FilterableAttributesRule) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = FieldRule(name)
		return nil
	}

	var raw filterablePatternJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filterable attributes rule: %w", err)
	}
	if raw.AttributePatterns == nil {
		return fmt.Errorf("filterable attributes rule: missing attributePatterns")
	}
	features := DefaultFeatures()
	if raw.Features != nil {
		features = *raw.Features
	}
	*r = PatternRule(raw.AttributePatterns, features)
	return nil
}
