// ABOUTME: Attribute pattern matching for field names
// ABOUTME: Wildcard prefix/suffix/contains patterns and the faceting relation

// Package patterns decides whether a configured attribute pattern applies to
// a (possibly nested, dot-separated) field name.
package patterns

import "strings"

// PatternMatch is the outcome of matching a field against a pattern
type PatternMatch int

const (
	// NoMatch means the pattern does not apply to the field or its children
	NoMatch PatternMatch = iota
	// Parent means the field is an ancestor of fields the pattern may match
	Parent
	// Match means the pattern applies to the field
	Match
)

func (m PatternMatch) String() string {
	switch m {
	case Match:
		return "match"
	case Parent:
		return "parent"
	default:
		return "no_match"
	}
}

// MatchPattern matches a field against a single pattern.
// Supported forms: "*", "*infix*", "*suffix", "prefix*" and exact names.
func MatchPattern(pattern, field string) PatternMatch {
	switch {
	case pattern == "*":
		return Match
	case len(pattern) > 1 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		if strings.Contains(field, pattern[1:len(pattern)-1]) {
			return Match
		}
	case strings.HasPrefix(pattern, "*"):
		if strings.HasSuffix(field, pattern[1:]) {
			return Match
		}
	case strings.HasSuffix(pattern, "*"):
		if strings.HasPrefix(field, pattern[:len(pattern)-1]) {
			return Match
		}
	case pattern == field:
		return Match
	}

	if isParentField(field, pattern) {
		return Parent
	}
	return NoMatch
}

// isParentField reports whether field could contain fields matched by pattern.
// A leading wildcard can match at any depth, so every field is a parent.
func isParentField(field, pattern string) bool {
	if strings.HasPrefix(pattern, "*") {
		return true
	}
	return len(pattern) > len(field) && pattern[len(field)] == '.' && strings.HasPrefix(pattern, field)
}

// MatchFieldLegacy matches the pre-pattern filterable syntax, where a plain
// name covers the field itself and everything nested under it.
func MatchFieldLegacy(pattern, field string) PatternMatch {
	switch {
	case IsFacetedBy(field, pattern):
		return Match
	case IsFacetedBy(pattern, field):
		return Parent
	default:
		return NoMatch
	}
}

// IsFacetedBy reports whether field is facet or nested under facet
func IsFacetedBy(field, facet string) bool {
	if !strings.HasPrefix(field, facet) {
		return false
	}
	rest := field[len(facet):]
	return rest == "" || rest[0] == '.'
}

// AttributePatterns is an ordered list of patterns treated as one rule
type AttributePatterns []string

// MatchStr returns Match if any pattern matches, otherwise Parent if any
// pattern reports the field as a parent, otherwise NoMatch.
func (ps AttributePatterns) MatchStr(field string) PatternMatch {
	result := NoMatch
	for _, p := range ps {
		switch MatchPattern(p, field) {
		case Match:
			return Match
		case Parent:
			result = Parent
		}
	}
	return result
}
