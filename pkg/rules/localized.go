// ABOUTME: Localized attribute rules binding field patterns to languages
// ABOUTME: Locales are BCP-47 / ISO-639 tags parsed with x/text/language

package rules

import (
	"github.com/nainya/fieldstore/pkg/patterns"
	"golang.org/x/text/language"
)

// LocalizedAttributesRule restricts text processing of matching fields to Locales
type LocalizedAttributesRule struct {
	AttributePatterns patterns.AttributePatterns `json:"attributePatterns"`
	Locales           []language.Tag             `json:"locales"`
}

// NewLocalizedRule parses locale codes such as "fra" or "en-US"
func NewLocalizedRule(attributePatterns []string, locales ...string) (LocalizedAttributesRule, error) {
	tags := make([]language.Tag, 0, len(locales))
	for _, l := range locales {
		tag, err := language.Parse(l)
		if err != nil {
			return LocalizedAttributesRule{}, err
		}
		tags = append(tags, tag)
	}
	return LocalizedAttributesRule{AttributePatterns: attributePatterns, Locales: tags}, nil
}

// MatchStr matches a field name against the rule's patterns
func (r LocalizedAttributesRule) MatchStr(field string) patterns.PatternMatch {
	return r.AttributePatterns.MatchStr(field)
}

// LocalesSlice returns the rule's languages
func (r LocalizedAttributesRule) LocalesSlice() []language.Tag {
	return r.Locales
}
