// ABOUTME: Document storage for an index
// ABOUTME: Registers every field path of incoming documents and tracks field distribution

package index

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/nainya/fieldstore/pkg/storage"
)

// Document is a stored document with its assigned id
type Document struct {
	ID   uint64
	Body map[string]any
}

// AddResult summarizes an AddDocuments call
type AddResult struct {
	DocumentIDs []uint64
	NewFields   []string
}

func documentKey(id uint64) []byte {
	return storage.EncodeKey(PREFIX_DOCUMENT, []storage.Value{storage.NewUint64Value(id)})
}

// AddDocuments stores docs under fresh ids, registering every field path
// (nested objects flattened to dotted names) in the field table.
func (ix *Index) AddDocuments(w storage.Writer, docs []map[string]any) (AddResult, error) {
	var result AddResult

	fm, err := ix.FieldsIDsMapWithMetadata(w)
	if err != nil {
		return result, err
	}
	dist, err := ix.FieldDistribution(w)
	if err != nil {
		return result, err
	}
	nextID, err := ix.nextDocumentID(w)
	if err != nil {
		return result, err
	}

	for _, doc := range docs {
		for _, path := range FieldPaths(doc) {
			if _, known := fm.ID(path); !known {
				if _, ok := fm.Insert(path); !ok {
					return result, fmt.Errorf("%w: cannot add %q", ErrMaxFieldsReached, path)
				}
				result.NewFields = append(result.NewFields, path)
			}
			dist[path]++
		}

		body, err := json.Marshal(doc)
		if err != nil {
			return result, fmt.Errorf("encode document: %w", err)
		}
		if err := w.Set(documentKey(nextID), body); err != nil {
			return result, err
		}
		result.DocumentIDs = append(result.DocumentIDs, nextID)
		nextID++
	}

	if err := ix.PutFieldsIDsMap(w, fm.AsFieldsIDsMap()); err != nil {
		return result, err
	}
	if err := ix.PutFieldDistribution(w, dist); err != nil {
		return result, err
	}
	return result, w.Set(mainKey(mainNextDocumentID), storage.EncodeValues([]storage.Value{storage.NewUint64Value(nextID)}))
}

func (ix *Index) nextDocumentID(r storage.Reader) (uint64, error) {
	data, ok, err := r.Get(mainKey(mainNextDocumentID))
	if err != nil || !ok {
		return 0, err
	}
	vals, err := storage.DecodeValues(data)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("corrupt document id counter")
	}
	return vals[0].U64, nil
}

// Documents calls fn for every stored document in id order until fn returns false
func (ix *Index) Documents(r storage.Reader, fn func(Document) bool) error {
	var decodeErr error
	err := r.Scan(storage.PrefixKey(PREFIX_DOCUMENT), func(key, val []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) != 1 {
			decodeErr = fmt.Errorf("corrupt document key %x", key)
			return false
		}
		doc := Document{ID: vals[0].U64}
		if err := json.Unmarshal(val, &doc.Body); err != nil {
			decodeErr = fmt.Errorf("decode document %d: %w", doc.ID, err)
			return false
		}
		return fn(doc)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// DocumentCount returns the number of stored documents
func (ix *Index) DocumentCount(r storage.Reader) (int, error) {
	n := 0
	err := r.Scan(storage.PrefixKey(PREFIX_DOCUMENT), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// ComputeFieldDistribution counts, from the stored documents, how many
// documents contain each field path
func (ix *Index) ComputeFieldDistribution(r storage.Reader) (map[string]uint64, error) {
	dist := make(map[string]uint64)
	err := ix.Documents(r, func(doc Document) bool {
		for _, path := range FieldPaths(doc.Body) {
			dist[path]++
		}
		return true
	})
	return dist, err
}

// FieldPaths returns every field path of doc in sorted order. Objects
// contribute their own path and their children's; objects nested in
// arrays are flattened under the array's path.
func FieldPaths(doc map[string]any) []string {
	seen := make(map[string]struct{})
	for k, v := range doc {
		collectPaths(k, v, seen)
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func collectPaths(path string, v any, seen map[string]struct{}) {
	seen[path] = struct{}{}
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			collectPaths(path+"."+k, child, seen)
		}
	case []any:
		for _, elem := range v {
			switch elem.(type) {
			case map[string]any, []any:
				collectPaths(path, elem, seen)
			}
		}
	}
}

// PutFacetStringCacheEntry writes an entry of the facet string cache that
// indexes before 1.13.1 maintained
func (ix *Index) PutFacetStringCacheEntry(w storage.Writer, fieldID uint16, value string, docID uint64) error {
	return w.Set(storage.EncodeKey(PREFIX_FACET_STRING, []storage.Value{
		storage.NewUint64Value(uint64(fieldID)),
		storage.NewStringValue(value),
		storage.NewUint64Value(docID),
	}), nil)
}

// FacetStringCacheLen counts the facet string cache entries
func (ix *Index) FacetStringCacheLen(r storage.Reader) (int, error) {
	n := 0
	err := r.Scan(storage.PrefixKey(PREFIX_FACET_STRING), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// ClearFacetStringCache deletes the whole facet string cache
func (ix *Index) ClearFacetStringCache(w storage.Writer) (int, error) {
	return w.DelPrefix(storage.PrefixKey(PREFIX_FACET_STRING))
}
