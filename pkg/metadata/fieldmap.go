// ABOUTME: Field id table that keeps a metadata entry for every field
// ABOUTME: Ids and metadata are always inserted together

package metadata

import (
	"fmt"
	"iter"

	"github.com/nainya/fieldstore/pkg/fieldids"
)

// Field is one entry of a FieldIDMapWithMetadata
type Field struct {
	ID       fieldids.FieldID
	Name     string
	Metadata Metadata
}

// FieldIDMapWithMetadata is a field id table with the metadata of every field.
// It is not synchronized; callers hold the index write transaction while inserting.
type FieldIDMapWithMetadata struct {
	fields   *fieldids.Map
	builder  *Builder
	metadata map[fieldids.FieldID]Metadata
}

// NewFieldIDMapWithMetadata takes ownership of existing and classifies every field in it
func NewFieldIDMapWithMetadata(existing *fieldids.Map, builder *Builder) *FieldIDMapWithMetadata {
	fm := &FieldIDMapWithMetadata{
		fields:   existing,
		builder:  builder,
		metadata: make(map[fieldids.FieldID]Metadata, existing.Len()),
	}
	for id, name := range existing.All() {
		fm.metadata[id] = builder.Classify(name)
	}
	return fm
}

// Insert returns the id of name, allocating and classifying it if new.
// It returns false when the id space is exhausted.
func (fm *FieldIDMapWithMetadata) Insert(name string) (fieldids.FieldID, bool) {
	id, ok := fm.fields.Insert(name)
	if !ok {
		return 0, false
	}
	if _, known := fm.metadata[id]; !known {
		fm.metadata[id] = fm.builder.Classify(name)
	}
	return id, true
}

func (fm *FieldIDMapWithMetadata) ID(name string) (fieldids.FieldID, bool) {
	return fm.fields.ID(name)
}

func (fm *FieldIDMapWithMetadata) Name(id fieldids.FieldID) (string, bool) {
	return fm.fields.Name(id)
}

// IDWithMetadata looks up a field by name
func (fm *FieldIDMapWithMetadata) IDWithMetadata(name string) (fieldids.FieldID, Metadata, bool) {
	id, ok := fm.fields.ID(name)
	if !ok {
		return 0, Metadata{}, false
	}
	return id, fm.mustMetadata(id), true
}

// NameWithMetadata looks up a field by id
func (fm *FieldIDMapWithMetadata) NameWithMetadata(id fieldids.FieldID) (string, Metadata, bool) {
	name, ok := fm.fields.Name(id)
	if !ok {
		return "", Metadata{}, false
	}
	return name, fm.mustMetadata(id), true
}

func (fm *FieldIDMapWithMetadata) Metadata(id fieldids.FieldID) (Metadata, bool) {
	m, ok := fm.metadata[id]
	return m, ok
}

func (fm *FieldIDMapWithMetadata) mustMetadata(id fieldids.FieldID) Metadata {
	m, ok := fm.metadata[id]
	if !ok {
		panic(fmt.Sprintf("metadata: field %d has no metadata", id))
	}
	return m
}

func (fm *FieldIDMapWithMetadata) Len() int      { return fm.fields.Len() }
func (fm *FieldIDMapWithMetadata) IsEmpty() bool { return fm.fields.IsEmpty() }

// AsFieldsIDsMap returns the underlying table, e.g. for persisting it
func (fm *FieldIDMapWithMetadata) AsFieldsIDsMap() *fieldids.Map {
	return fm.fields
}

func (fm *FieldIDMapWithMetadata) Builder() *Builder {
	return fm.builder
}

// All yields every field in id order
func (fm *FieldIDMapWithMetadata) All() iter.Seq[Field] {
	return func(yield func(Field) bool) {
		for id, name := range fm.fields.All() {
			if !yield(Field{ID: id, Name: name, Metadata: fm.mustMetadata(id)}) {
				return
			}
		}
	}
}

// IDMetadata yields (id, metadata) pairs in id order
func (fm *FieldIDMapWithMetadata) IDMetadata() iter.Seq2[fieldids.FieldID, Metadata] {
	return func(yield func(fieldids.FieldID, Metadata) bool) {
		for id := range fm.fields.All() {
			if !yield(id, fm.mustMetadata(id)) {
				return
			}
		}
	}
}

// Metadatas yields the metadata of every field in id order
func (fm *FieldIDMapWithMetadata) Metadatas() iter.Seq[Metadata] {
	return func(yield func(Metadata) bool) {
		for _, m := range fm.IDMetadata() {
			if !yield(m) {
				return
			}
		}
	}
}
