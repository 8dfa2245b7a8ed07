// ABOUTME: Index handle over a storage environment
// ABOUTME: Typed accessors for the main key space: version, settings, fields

// Package index ties together the field id table, attribute settings,
// documents and vector collections of one index.
package index

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nainya/fieldstore/pkg/fieldids"
	"github.com/nainya/fieldstore/pkg/rules"
	"github.com/nainya/fieldstore/pkg/storage"
	"github.com/nainya/fieldstore/pkg/version"
)

// Prefixes for index storage
const (
	PREFIX_MAIN         = uint32(1000) // (key name) -> JSON or encoded value
	PREFIX_DOCUMENT     = uint32(2000) // (docID) -> document JSON
	PREFIX_FACET_STRING = uint32(3000) // (fieldID, normalized value, docID); written by pre-1.13.1 indexes
)

// Keys of the main key space
const (
	mainSearchableFields  = "searchable-fields"
	mainFilterableRules   = "filterable-attributes-rules"
	mainLegacyFilterable  = "filterable-fields"
	mainSortableFields    = "sortable-fields"
	mainLocalizedRules    = "localized-attributes-rules"
	mainFieldsIDsMap      = "fields-ids-map"
	mainFieldDistribution = "fields-distribution"
	mainNextDocumentID    = "next-document-id"
)

var (
	// ErrAlreadyCreated is returned by Create on an environment that holds an index
	ErrAlreadyCreated = errors.New("index: already created")

	// ErrMaxFieldsReached is returned when a document would exceed the field id space
	ErrMaxFieldsReached = errors.New("index: maximum number of fields reached")
)

// Index is a handle on the index stored in an environment
type Index struct {
	env *storage.Env
}

// Create initializes an empty index stamped with the current version
func Create(env *storage.Env) (*Index, error) {
	ix := &Index{env: env}

	wtxn, err := env.WriteTxn()
	if err != nil {
		return nil, err
	}
	defer wtxn.Abort()

	if _, ok, err := ix.Version(wtxn); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyCreated
	}
	if err := ix.PutVersion(wtxn, version.Current); err != nil {
		return nil, err
	}
	if err := ix.PutFieldsIDsMap(wtxn, fieldids.New()); err != nil {
		return nil, err
	}
	if err := wtxn.Commit(); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return ix, nil
}

// Open returns a handle on whatever index the environment holds.
// An environment without a version record is a pre-versioning index.
func Open(env *storage.Env) *Index {
	return &Index{env: env}
}

// OpenOrCreate creates an index in an empty environment and opens any
// other one. created reports which happened.
func OpenOrCreate(env *storage.Env) (ix *Index, created bool, err error) {
	rtxn, err := env.ReadTxn()
	if err != nil {
		return nil, false, err
	}
	empty := true
	err = rtxn.Scan(nil, func(_, _ []byte) bool {
		empty = false
		return false
	})
	rtxn.Close()
	if err != nil {
		return nil, false, err
	}

	if !empty {
		return Open(env), false, nil
	}
	ix, err = Create(env)
	return ix, err == nil, err
}

func (ix *Index) Env() *storage.Env { return ix.env }

func (ix *Index) ReadTxn() (*storage.RoTxn, error)  { return ix.env.ReadTxn() }
func (ix *Index) WriteTxn() (*storage.RwTxn, error) { return ix.env.WriteTxn() }

func mainKey(name string) []byte {
	return storage.EncodeKey(PREFIX_MAIN, []storage.Value{storage.NewStringValue(name)})
}

func getJSON(r storage.Reader, name string, out any) (bool, error) {
	data, ok, err := r.Get(mainKey(name))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func putJSON(w storage.Writer, name string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return w.Set(mainKey(name), data)
}

// Version returns the recorded format version
func (ix *Index) Version(r storage.Reader) (version.Version, bool, error) {
	return version.Load(r)
}

func (ix *Index) PutVersion(w storage.Writer, v version.Version) error {
	return version.Store(w, v)
}

// UserDefinedSearchableFields returns nil when the setting is unset
func (ix *Index) UserDefinedSearchableFields(r storage.Reader) ([]string, error) {
	var fields []string
	_, err := getJSON(r, mainSearchableFields, &fields)
	return fields, err
}

// PutSearchableFields stores the setting; nil resets it
func (ix *Index) PutSearchableFields(w storage.Writer, fields []string) error {
	if fields == nil {
		return w.Del(mainKey(mainSearchableFields))
	}
	return putJSON(w, mainSearchableFields, fields)
}

func (ix *Index) FilterableAttributesRules(r storage.Reader) ([]rules.FilterableAttributesRule, error) {
	var out []rules.FilterableAttributesRule
	_, err := getJSON(r, mainFilterableRules, &out)
	return out, err
}

func (ix *Index) PutFilterableAttributesRules(w storage.Writer, rs []rules.FilterableAttributesRule) error {
	if rs == nil {
		rs = []rules.FilterableAttributesRule{}
	}
	return putJSON(w, mainFilterableRules, rs)
}

// LegacyFilterableFields returns the plain field list older indexes stored
func (ix *Index) LegacyFilterableFields(r storage.Reader) ([]string, bool, error) {
	var out []string
	ok, err := getJSON(r, mainLegacyFilterable, &out)
	return out, ok, err
}

func (ix *Index) PutLegacyFilterableFields(w storage.Writer, fields []string) error {
	return putJSON(w, mainLegacyFilterable, fields)
}

func (ix *Index) DeleteLegacyFilterableFields(w storage.Writer) error {
	return w.Del(mainKey(mainLegacyFilterable))
}

func (ix *Index) SortableFields(r storage.Reader) ([]string, error) {
	var out []string
	_, err := getJSON(r, mainSortableFields, &out)
	return out, err
}

func (ix *Index) PutSortableFields(w storage.Writer, fields []string) error {
	if fields == nil {
		fields = []string{}
	}
	return putJSON(w, mainSortableFields, fields)
}

// LocalizedAttributesRules returns nil when the setting is unset
func (ix *Index) LocalizedAttributesRules(r storage.Reader) ([]rules.LocalizedAttributesRule, error) {
	var out []rules.LocalizedAttributesRule
	_, err := getJSON(r, mainLocalizedRules, &out)
	return out, err
}

// PutLocalizedAttributesRules stores the setting; nil resets it
func (ix *Index) PutLocalizedAttributesRules(w storage.Writer, rs []rules.LocalizedAttributesRule) error {
	if rs == nil {
		return w.Del(mainKey(mainLocalizedRules))
	}
	return putJSON(w, mainLocalizedRules, rs)
}

func (ix *Index) FieldsIDsMap(r storage.Reader) (*fieldids.Map, error) {
	m := fieldids.New()
	if _, err := getJSON(r, mainFieldsIDsMap, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (ix *Index) PutFieldsIDsMap(w storage.Writer, m *fieldids.Map) error {
	return putJSON(w, mainFieldsIDsMap, m)
}

// FieldDistribution maps each field name to the number of documents containing it
func (ix *Index) FieldDistribution(r storage.Reader) (map[string]uint64, error) {
	out := make(map[string]uint64)
	_, err := getJSON(r, mainFieldDistribution, &out)
	return out, err
}

func (ix *Index) PutFieldDistribution(w storage.Writer, dist map[string]uint64) error {
	return putJSON(w, mainFieldDistribution, dist)
}
