// ABOUTME: Attribute settings of an index and the metadata derived from them
// ABOUTME: Settings are validated through the metadata builder before being stored

package index

import (
	"github.com/nainya/fieldstore/pkg/metadata"
	"github.com/nainya/fieldstore/pkg/rules"
	"github.com/nainya/fieldstore/pkg/storage"
)

// Settings is the user-facing attribute configuration.
// Nil searchable or localized attributes mean the setting is unset.
type Settings struct {
	SearchableAttributes []string                         `json:"searchableAttributes"`
	FilterableAttributes []rules.FilterableAttributesRule `json:"filterableAttributes"`
	SortableAttributes   []string                         `json:"sortableAttributes"`
	LocalizedAttributes  []rules.LocalizedAttributesRule  `json:"localizedAttributes"`
}

// Metadata converts the settings into builder input
func (s Settings) Metadata() metadata.Settings {
	return metadata.Settings{
		SearchableAttributes: s.SearchableAttributes,
		FilterableAttributes: s.FilterableAttributes,
		SortableAttributes:   s.SortableAttributes,
		LocalizedAttributes:  s.LocalizedAttributes,
	}
}

// Settings loads the stored settings
func (ix *Index) Settings(r storage.Reader) (Settings, error) {
	var (
		s   Settings
		err error
	)
	if s.SearchableAttributes, err = ix.UserDefinedSearchableFields(r); err != nil {
		return Settings{}, err
	}
	if s.FilterableAttributes, err = ix.FilterableAttributesRules(r); err != nil {
		return Settings{}, err
	}
	if s.SortableAttributes, err = ix.SortableFields(r); err != nil {
		return Settings{}, err
	}
	if s.LocalizedAttributes, err = ix.LocalizedAttributesRules(r); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ApplySettings validates and stores s, replacing every attribute setting
func (ix *Index) ApplySettings(w storage.Writer, s Settings) error {
	if _, err := metadata.NewBuilder(s.Metadata()); err != nil {
		return err
	}
	if err := ix.PutSearchableFields(w, s.SearchableAttributes); err != nil {
		return err
	}
	if err := ix.PutFilterableAttributesRules(w, s.FilterableAttributes); err != nil {
		return err
	}
	if err := ix.PutSortableFields(w, s.SortableAttributes); err != nil {
		return err
	}
	return ix.PutLocalizedAttributesRules(w, s.LocalizedAttributes)
}

// MetadataBuilder builds a classifier from the stored settings
func (ix *Index) MetadataBuilder(r storage.Reader) (*metadata.Builder, error) {
	s, err := ix.Settings(r)
	if err != nil {
		return nil, err
	}
	return metadata.NewBuilder(s.Metadata())
}

// FieldsIDsMapWithMetadata loads the field table with every field classified
func (ix *Index) FieldsIDsMapWithMetadata(r storage.Reader) (*metadata.FieldIDMapWithMetadata, error) {
	builder, err := ix.MetadataBuilder(r)
	if err != nil {
		return nil, err
	}
	fields, err := ix.FieldsIDsMap(r)
	if err != nil {
		return nil, err
	}
	return metadata.NewFieldIDMapWithMetadata(fields, builder), nil
}

// FacetedFields lists, in id order, the fields that belong in the facet databases
func (ix *Index) FacetedFields(r storage.Reader) ([]string, error) {
	fm, err := ix.FieldsIDsMapWithMetadata(r)
	if err != nil {
		return nil, err
	}
	filterable := fm.Builder().FilterableAttributes()

	var out []string
	for f := range fm.All() {
		if f.Metadata.IsFaceted(filterable) {
			out = append(out, f.Name)
		}
	}
	return out, nil
}
